package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

const defaultFrameSize = 64 << 10

// fileSubscriber reads a local file as a stream of fixed-size frames.
//
// Options: loop=true rewinds at end of file, frame_size sets the chunk
// length in bytes, maxfps throttles the frame rate.
type fileSubscriber struct {
	addr      address.TopicAddress
	f         *os.File
	frameSize int
	loop      bool
	interval  time.Duration

	seq  uint64
	last time.Time
	read int64
}

func openFileSubscriber(addr address.TopicAddress) (*fileSubscriber, error) {
	frameSize := defaultFrameSize
	if v := addr.Option("frame_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, types.ConfigError("address %s: frame_size must be a positive integer", addr)
		}
		frameSize = n
	}
	var interval time.Duration
	if v := addr.Option("maxfps"); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil || fps <= 0 {
			return nil, types.ConfigError("address %s: maxfps must be a positive number", addr)
		}
		interval = time.Duration(float64(time.Second) / fps)
	}

	f, err := os.Open(addr.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBind, err)
	}
	return &fileSubscriber{
		addr:      addr,
		f:         f,
		frameSize: frameSize,
		loop:      addr.BoolOption("loop"),
		interval:  interval,
	}, nil
}

func (s *fileSubscriber) Receive(ctx context.Context) (*types.Message, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}

	buf := make([]byte, s.frameSize)
	n, err := io.ReadFull(s.f, buf)
	if n == 0 && errors.Is(err, io.EOF) {
		if !s.loop || s.read == 0 {
			return nil, io.EOF
		}
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: rewind %s: %w", types.ErrBind, s.addr.Endpoint, err)
		}
		n, err = io.ReadFull(s.f, buf)
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read %s: %w", types.ErrBind, s.addr.Endpoint, err)
	}
	if n == 0 {
		return nil, io.EOF
	}
	s.read += int64(n)

	m := types.NewMessage(s.addr.Topic, buf[:n])
	m.Seq = s.seq
	m.Set("source", s.addr.String())
	s.seq++
	return m, nil
}

func (s *fileSubscriber) throttle(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	if !s.last.IsZero() {
		if wait := time.Until(s.last.Add(s.interval)); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	s.last = time.Now()
	return nil
}

func (s *fileSubscriber) Close() error {
	return s.f.Close()
}

// filePublisher appends newline-delimited JSON messages to a file.
type filePublisher struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func openFilePublisher(addr address.TopicAddress) (*filePublisher, error) {
	if dir := filepath.Dir(addr.Endpoint); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrBind, err)
		}
	}
	f, err := os.Create(addr.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBind, err)
	}
	return &filePublisher{f: f, w: bufio.NewWriter(f)}, nil
}

func (p *filePublisher) Publish(ctx context.Context, m *types.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write %s: %w", types.ErrBind, p.f.Name(), err)
	}
	return nil
}

func (p *filePublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		p.f.Close()
		return err
	}
	return p.f.Close()
}
