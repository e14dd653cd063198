package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hiagors92/open-filter-challange/types"
)

type frameKind byte

const (
	frameHello frameKind = iota + 1
	frameAck
	frameData
	frameEOS
)

const maxFrameSize = 64 << 20

// hello is the first frame sent by the dialing side of a tcp connection.
type hello struct {
	Role  string `json:"role"` // "pub" or "sub"
	Topic string `json:"topic"`
}

type ack struct {
	Error string `json:"error,omitempty"`
}

func writeFrame(w io.Writer, kind frameKind, payload []byte) error {
	var hdr [5]byte
	hdr[0] = byte(kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (frameKind, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[1:])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return frameKind(hdr[0]), payload, nil
}

func writeJSONFrame(w io.Writer, kind frameKind, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFrame(w, kind, data)
}

func writeMessage(w io.Writer, m *types.Message) error {
	return writeJSONFrame(w, frameData, m)
}

func decodeMessage(payload []byte) (*types.Message, error) {
	var m types.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	return &m, nil
}
