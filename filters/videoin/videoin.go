// Package videoin implements the VideoIn source stage. Frames come from the
// stage's file sources; with no sources configured it generates a synthetic
// test pattern instead.
package videoin

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/types"
)

// ID is the implementation id VideoIn registers under.
const ID = "VideoIn"

const (
	defaultPatternSize = 64 * 1024
	defaultTopic       = "main"
)

// Filter is the VideoIn implementation.
type Filter struct {
	name      string
	maxFrames int
	interval  time.Duration
	size      int
	topic     string

	frames atomic.Int64
}

// New returns an uninitialised VideoIn filter.
func New() runtime.Filter { return &Filter{} }

// Init reads max_frames (0 means unlimited), and for the synthetic source
// interval, frame_size and topic.
func (f *Filter) Init(_ context.Context, opts runtime.Options) error {
	f.name = opts.Name
	var err error
	if f.maxFrames, err = opts.GetInt("max_frames", 0); err != nil {
		return err
	}
	if f.maxFrames < 0 {
		return types.ConfigError("max_frames must be >= 0, got %d", f.maxFrames)
	}
	if f.interval, err = opts.GetDuration("interval", 0); err != nil {
		return err
	}
	if f.size, err = opts.GetInt("frame_size", defaultPatternSize); err != nil {
		return err
	}
	if f.size <= 0 {
		return types.ConfigError("frame_size must be > 0, got %d", f.size)
	}
	f.topic = opts.GetString("topic", defaultTopic)
	return nil
}

// Process turns one chunk read from a source into a frame message.
func (f *Filter) Process(_ context.Context, m *runtime.Message) ([]*runtime.Message, error) {
	n := f.frames.Add(1)
	if f.maxFrames > 0 && n > int64(f.maxFrames) {
		return nil, runtime.ErrEndOfStream
	}

	out := m.Derive()
	out.Seq = uint64(n - 1)
	out.Set("frame", n-1)
	out.Set("size", len(m.Payload))
	if _, ok := out.Data["source"]; !ok {
		out.Set("source", m.Topic)
	}

	if f.maxFrames > 0 && n == int64(f.maxFrames) {
		return []*runtime.Message{out}, runtime.ErrEndOfStream
	}
	return []*runtime.Message{out}, nil
}

// Generate emits synthetic frames until max_frames is reached or ctx is
// done. It is only used when the stage has no sources.
func (f *Filter) Generate(ctx context.Context, emit func(*runtime.Message) error) error {
	var ticker *time.Ticker
	if f.interval > 0 {
		ticker = time.NewTicker(f.interval)
		defer ticker.Stop()
	}

	for {
		n := f.frames.Load()
		if f.maxFrames > 0 && n >= int64(f.maxFrames) {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		m := types.NewMessage(f.topic, pattern(n, f.size))
		m.Seq = uint64(n)
		m.Set("frame", n)
		m.Set("size", f.size)
		m.Set("source", fmt.Sprintf("pattern://%s", f.name))
		f.frames.Add(1)
		if err := emit(m); err != nil {
			return err
		}
	}
}

// Shutdown is a no-op; sources are closed by the runtime.
func (f *Filter) Shutdown(context.Context) error { return nil }

// Frames returns how many frames were produced.
func (f *Filter) Frames() int64 { return f.frames.Load() }

// pattern renders frame n of the synthetic source: a caption followed by
// filler bytes.
func pattern(n int64, size int) []byte {
	buf := make([]byte, size)
	caption := fmt.Sprintf("FRAME %06d OPENFILTER TEST PATTERN ", n)
	copy(buf, caption)
	for i := len(caption); i < size; i++ {
		buf[i] = byte((int64(i) + n) % 7)
	}
	return buf
}
