// Package webvis implements the Webvis sink: it keeps the latest message of
// every topic and serves it as JSON over HTTP.
package webvis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

// ID is the implementation id Webvis registers under.
const ID = "Webvis"

// DefaultPort is the HTTP port when none is configured.
const DefaultPort = 8000

const shutdownTimeout = 2 * time.Second

// Frame is the JSON view of one received message. Payloads are summarised
// by size.
type Frame struct {
	ID          string         `json:"id"`
	Stage       string         `json:"stage"`
	Topic       string         `json:"topic"`
	Seq         uint64         `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	PayloadSize int            `json:"payload_size"`
	Data        map[string]any `json:"data,omitempty"`
}

// Filter is the Webvis implementation.
type Filter struct {
	name    string
	forward bool

	mu       sync.RWMutex
	latest   map[string]Frame
	received uint64

	ln  net.Listener
	srv *http.Server
}

// New returns an uninitialised Webvis filter.
func New() runtime.Filter { return &Filter{} }

// Init opens the HTTP listener. Options: port (default 8000, 0 disables
// the server), host, or addr as host:port overriding both.
func (f *Filter) Init(_ context.Context, opts runtime.Options) error {
	f.name = opts.Name
	f.forward = len(opts.Outputs) > 0
	f.latest = make(map[string]Frame)

	port, err := opts.GetInt("port", DefaultPort)
	if err != nil {
		return err
	}
	if port < 0 || port > 65535 {
		return types.ConfigError("port %d out of range 0-65535", port)
	}
	addr := opts.GetString("addr", "")
	if addr == "" {
		if port == 0 {
			return nil
		}
		addr = net.JoinHostPort(opts.GetString("host", ""), strconv.Itoa(port))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: webvis listen %s: %w", types.ErrBind, addr, err)
	}
	f.ln = ln
	f.srv = &http.Server{
		Handler:           f.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go f.srv.Serve(ln) //nolint:errcheck
	return nil
}

// Process records m as the latest frame of its topic. Webvis forwards
// nothing unless it has outputs, in which case m passes through.
func (f *Filter) Process(_ context.Context, m *runtime.Message) ([]*runtime.Message, error) {
	frame := Frame{
		ID:          m.ID.String(),
		Stage:       m.Stage,
		Topic:       m.Topic,
		Seq:         m.Seq,
		Timestamp:   m.Timestamp,
		PayloadSize: len(m.Payload),
		Data:        m.Data,
	}
	f.mu.Lock()
	f.latest[m.Topic] = frame
	f.received++
	f.mu.Unlock()
	if !f.forward {
		return nil, nil
	}
	return []*runtime.Message{m.Derive()}, nil
}

// Shutdown stops the HTTP server.
func (f *Filter) Shutdown(context.Context) error {
	if f.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := f.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = f.srv.Close()
		return fmt.Errorf("webvis shutdown: %w", err)
	}
	return nil
}

// Addr returns the listening address, or nil when the server is disabled.
func (f *Filter) Addr() net.Addr {
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

// Latest returns the latest frame of topic.
func (f *Filter) Latest(topic string) (Frame, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fr, ok := f.latest[topic]
	return fr, ok
}

// Handler serves /healthz and /latest. /latest?topic=t returns one frame,
// otherwise every topic's latest frame.
func (f *Filter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.RLock()
		received := f.received
		f.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stage": f.name, "received": received})
	})
	mux.HandleFunc("GET /latest", func(w http.ResponseWriter, r *http.Request) {
		if topic := r.URL.Query().Get("topic"); topic != "" {
			fr, ok := f.Latest(topic)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no frame on topic %q", topic)})
				return
			}
			writeJSON(w, http.StatusOK, fr)
			return
		}

		f.mu.RLock()
		frames := make([]Frame, 0, len(f.latest))
		for _, fr := range f.latest {
			frames = append(frames, fr)
		}
		f.mu.RUnlock()
		sort.Slice(frames, func(i, j int) bool { return frames[i].Topic < frames[j].Topic })
		writeJSON(w, http.StatusOK, frames)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
