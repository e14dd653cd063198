// Package transport implements the publish/subscribe carriers that connect
// pipeline stages: tcp, inproc and file.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

// Publisher delivers messages to every subscriber of one address.
type Publisher interface {
	// Publish enqueues m for every connected subscriber. It blocks while a
	// subscriber queue is full unless the policy allows dropping.
	Publish(ctx context.Context, m *types.Message) error
	// Close flushes queued messages, signals end-of-stream and releases the
	// endpoint. It gives up when ctx is done.
	Close(ctx context.Context) error
}

// Subscriber yields messages received on one address.
type Subscriber interface {
	// Receive blocks for the next message. It returns io.EOF once every
	// upstream publisher has signalled end-of-stream.
	Receive(ctx context.Context) (*types.Message, error)
	Close() error
}

// Policy controls buffering and connection behaviour for one endpoint.
type Policy struct {
	// MaxInFlight > 0 bounds each subscriber queue and drops the oldest
	// queued message when full. Zero means block on a full queue.
	MaxInFlight int
	// QueueSize is the per-subscriber queue length when blocking.
	QueueSize int
	// ConnectRetries bounds connect attempts for connect-mode endpoints.
	ConnectRetries int
	// ConnectBackoff is the initial delay between attempts; it doubles up to 2s.
	ConnectBackoff time.Duration
	// MaxConnections caps peers accepted by a bind-mode tcp endpoint.
	MaxConnections int
	// OnDrop is called for every message discarded by the drop-oldest policy.
	OnDrop func(m *types.Message)
	// OnPeerLost is called when a peer connection fails mid-stream.
	OnPeerLost func(peer string, err error)
}

const (
	defaultQueueSize      = 64
	defaultMaxConnections = 64
	maxBackoff            = 2 * time.Second
)

func (p Policy) queueSize() int {
	if p.MaxInFlight > 0 {
		return p.MaxInFlight
	}
	if p.QueueSize > 0 {
		return p.QueueSize
	}
	return defaultQueueSize
}

func (p Policy) withDefaults() Policy {
	if p.ConnectRetries <= 0 {
		p.ConnectRetries = types.DefaultConnectRetries
	}
	if p.ConnectBackoff <= 0 {
		p.ConnectBackoff = types.DefaultConnectBackoff
	}
	if p.MaxConnections <= 0 {
		p.MaxConnections = defaultMaxConnections
	}
	return p
}

func (p Policy) peerLost(peer string, err error) {
	if p.OnPeerLost != nil {
		p.OnPeerLost(peer, err)
	}
}

// Opener opens endpoints for one pipeline run. The zero value supports tcp
// and file; inproc requires a Broker.
type Opener struct {
	Broker *Broker
}

// OpenPublisher opens the output side of addr.
func (o *Opener) OpenPublisher(ctx context.Context, addr address.TopicAddress, policy Policy) (Publisher, error) {
	policy = policy.withDefaults()
	switch addr.Transport {
	case address.TCP:
		if addr.BindMode == address.Bind {
			return listenPublisher(addr, policy)
		}
		return dialPublisher(ctx, addr, policy)
	case address.InProc:
		if o.Broker == nil {
			return nil, types.ConfigError("inproc address %s requires a broker", addr)
		}
		return o.Broker.publisher(ctx, addr, policy)
	case address.File:
		return openFilePublisher(addr)
	}
	return nil, types.ConfigError("unsupported transport %q", addr.Transport)
}

// OpenSubscriber opens the input side of addr.
func (o *Opener) OpenSubscriber(ctx context.Context, addr address.TopicAddress, policy Policy) (Subscriber, error) {
	policy = policy.withDefaults()
	switch addr.Transport {
	case address.TCP:
		if addr.BindMode == address.Bind {
			return listenSubscriber(addr, policy)
		}
		return dialSubscriber(ctx, addr, policy)
	case address.InProc:
		if o.Broker == nil {
			return nil, types.ConfigError("inproc address %s requires a broker", addr)
		}
		return o.Broker.subscriber(ctx, addr, policy)
	case address.File:
		return openFileSubscriber(addr)
	}
	return nil, types.ConfigError("unsupported transport %q", addr.Transport)
}

// permanentError stops the retry loop immediately.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// retry calls fn until it succeeds, returns a permanent error, or the
// attempt budget is spent. The delay doubles after each attempt up to maxBackoff.
func retry(ctx context.Context, policy Policy, what string, fn func() error) error {
	interval := policy.ConnectBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.ConnectRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return fmt.Errorf("%w: %s: %w", types.ErrBind, what, perm.err)
		}
		lastErr = err
		if attempt == policy.ConnectRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", types.ErrBind, what, ctx.Err())
		case <-time.After(interval):
		}
		if interval < maxBackoff {
			interval *= 2
			if interval > maxBackoff {
				interval = maxBackoff
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", types.ErrBind, what, policy.ConnectRetries, lastErr)
}
