package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/hiagors92/open-filter-challange/types"
)

var errClosed = errors.New("endpoint closed")

// peer is one downstream sink of a publisher: a bounded queue drained by a
// writer goroutine into deliver.
type peer struct {
	name    string
	queue   chan *types.Message
	policy  Policy
	deliver func(*types.Message) error
	finish  func(err error)

	closeOnce sync.Once
	stop      chan struct{} // closed when the writer gave up
	done      chan struct{}
}

func newPeer(name string, policy Policy, deliver func(*types.Message) error, finish func(error)) *peer {
	p := &peer{
		name:    name,
		queue:   make(chan *types.Message, policy.queueSize()),
		policy:  policy,
		deliver: deliver,
		finish:  finish,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	return p
}

// start launches the writer. Callers attach the peer to a fanOut first so
// no message published after the handshake is missed.
func (p *peer) start() {
	go p.run()
}

func (p *peer) run() {
	defer close(p.done)
	for m := range p.queue {
		if err := p.deliver(m); err != nil {
			close(p.stop)
			p.policy.peerLost(p.name, err)
			p.finish(err)
			return
		}
	}
	p.finish(nil)
}

// push enqueues m, blocking or dropping the oldest entry per policy.
func (p *peer) push(ctx context.Context, m *types.Message) error {
	if p.policy.MaxInFlight <= 0 {
		select {
		case p.queue <- m:
			return nil
		case <-p.stop:
			return errClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case <-p.stop:
			return errClosed
		default:
		}
		select {
		case p.queue <- m:
			return nil
		default:
		}
		select {
		case old := <-p.queue:
			if p.policy.OnDrop != nil {
				p.policy.OnDrop(old)
			}
		default:
		}
	}
}

// close stops accepting messages; the writer drains what is queued.
func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.queue) })
}

// fanOut publishes every message to all attached peers in publish order.
type fanOut struct {
	sendMu sync.RWMutex // held for reading while pushing, for writing while closing
	mu     sync.Mutex
	peers  []*peer
	closed bool
}

func (f *fanOut) add(p *peer) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.peers = append(f.peers, p)
	return true
}

func (f *fanOut) remove(p *peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, q := range f.peers {
		if q == p {
			f.peers = append(f.peers[:i], f.peers[i+1:]...)
			return
		}
	}
}

func (f *fanOut) snapshot() []*peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*peer(nil), f.peers...)
}

func (f *fanOut) publish(ctx context.Context, m *types.Message) error {
	f.sendMu.RLock()
	defer f.sendMu.RUnlock()

	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errClosed
	}
	for _, p := range f.snapshot() {
		if err := p.push(ctx, m); err != nil {
			if errors.Is(err, errClosed) {
				f.remove(p)
				continue
			}
			return err
		}
	}
	return nil
}

// close closes every peer queue and waits for the writers to drain.
func (f *fanOut) close(ctx context.Context) error {
	f.sendMu.Lock()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.sendMu.Unlock()
		return nil
	}
	f.closed = true
	peers := f.peers
	f.peers = nil
	f.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
	f.sendMu.Unlock()

	for _, p := range peers {
		select {
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// fanIn merges messages from any number of upstream sources. It reports
// io.EOF once at least one source attached and all attached sources ended.
type fanIn struct {
	ch     chan *types.Message
	closed chan struct{}
	ended  chan struct{}

	mu        sync.Mutex
	active    int
	seen      bool
	err       error
	closeOnce sync.Once
	endOnce   sync.Once
}

func newFanIn(size int) *fanIn {
	return &fanIn{
		ch:     make(chan *types.Message, size),
		closed: make(chan struct{}),
		ended:  make(chan struct{}),
	}
}

func (f *fanIn) attach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active++
	f.seen = true
}

// detach marks one source finished. A non-nil err becomes the error
// reported to the receiver instead of io.EOF.
func (f *fanIn) detach(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil && f.err == nil {
		f.err = err
	}
	f.active--
	if f.active <= 0 && f.seen {
		f.endOnce.Do(func() { close(f.ended) })
	}
}

func (f *fanIn) push(ctx context.Context, m *types.Message) error {
	select {
	case f.ch <- m:
		return nil
	case <-f.closed:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fanIn) receive(ctx context.Context) (*types.Message, error) {
	select {
	case m := <-f.ch:
		return m, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.ended:
		select {
		case m := <-f.ch:
			return m, nil
		default:
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.err != nil {
			return nil, f.err
		}
		return nil, io.EOF
	}
}

func (f *fanIn) close() {
	f.closeOnce.Do(func() { close(f.closed) })
}
