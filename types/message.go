package types

import (
	"time"

	"github.com/google/uuid"
)

// Message is the unit of data exchanged between stages.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Stage     string         `json:"stage"`
	Topic     string         `json:"topic"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   []byte         `json:"payload,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewMessage creates a message on topic with a fresh id.
func NewMessage(topic string, payload []byte) *Message {
	return &Message{
		ID:        uuid.New(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Derive returns a new message carrying m's payload and a copy of its data,
// ready to be modified by a downstream filter.
func (m *Message) Derive() *Message {
	out := NewMessage(m.Topic, m.Payload)
	if len(m.Data) > 0 {
		out.Data = make(map[string]any, len(m.Data))
		for k, v := range m.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Set stores a data field, allocating the map on first use.
func (m *Message) Set(key string, value any) {
	if m.Data == nil {
		m.Data = make(map[string]any)
	}
	m.Data[key] = value
}
