package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

// Broker connects inproc endpoints within one pipeline run. Create one per
// run; brokers share nothing.
type Broker struct {
	mu        sync.Mutex
	endpoints map[string]any // key -> *inprocPublisher | *inprocListenSubscriber
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{endpoints: make(map[string]any)}
}

func (b *Broker) register(addr address.TopicAddress, ep any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := addr.Key()
	if _, exists := b.endpoints[key]; exists {
		return fmt.Errorf("%w: %s already bound", types.ErrBind, addr)
	}
	b.endpoints[key] = ep
	return nil
}

func (b *Broker) unregister(addr address.TopicAddress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, addr.Key())
}

func (b *Broker) lookup(ctx context.Context, addr address.TopicAddress, policy Policy) (any, error) {
	var ep any
	err := retry(ctx, policy, "connect "+addr.String(), func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		found, ok := b.endpoints[addr.Key()]
		if !ok {
			return fmt.Errorf("no endpoint bound at %s", addr)
		}
		ep = found
		return nil
	})
	return ep, err
}

func (b *Broker) publisher(ctx context.Context, addr address.TopicAddress, policy Policy) (Publisher, error) {
	if addr.BindMode == address.Bind {
		p := &inprocPublisher{broker: b, addr: addr, policy: policy}
		if err := b.register(addr, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	ep, err := b.lookup(ctx, addr, policy)
	if err != nil {
		return nil, err
	}
	sub, ok := ep.(*inprocListenSubscriber)
	if !ok {
		return nil, fmt.Errorf("%w: %s is bound by a publisher", types.ErrBind, addr)
	}
	p := &inprocDialPublisher{}
	sub.in.attach()
	pr := newPeer("inproc", policy, func(m *types.Message) error {
		return sub.in.push(context.Background(), m)
	}, func(err error) { sub.in.detach(nil) })
	p.out.add(pr)
	pr.start()
	return p, nil
}

func (b *Broker) subscriber(ctx context.Context, addr address.TopicAddress, policy Policy) (Subscriber, error) {
	if addr.BindMode == address.Bind {
		s := &inprocListenSubscriber{broker: b, addr: addr, in: newFanIn(policy.queueSize())}
		if err := b.register(addr, s); err != nil {
			return nil, err
		}
		return s, nil
	}
	ep, err := b.lookup(ctx, addr, policy)
	if err != nil {
		return nil, err
	}
	pub, ok := ep.(*inprocPublisher)
	if !ok {
		return nil, fmt.Errorf("%w: %s is bound by a subscriber", types.ErrBind, addr)
	}
	s := &inprocSubscriber{in: newFanIn(policy.queueSize())}
	s.in.attach()
	pr := newPeer("inproc", pub.policy, func(m *types.Message) error {
		return s.in.push(context.Background(), m)
	}, func(err error) { s.in.detach(nil) })
	if !pub.out.add(pr) {
		return nil, fmt.Errorf("%w: %s is closed", types.ErrBind, addr)
	}
	pr.start()
	return s, nil
}

type inprocPublisher struct {
	broker *Broker
	addr   address.TopicAddress
	policy Policy
	out    fanOut
}

func (p *inprocPublisher) Publish(ctx context.Context, m *types.Message) error {
	return p.out.publish(ctx, m)
}

func (p *inprocPublisher) Close(ctx context.Context) error {
	p.broker.unregister(p.addr)
	return p.out.close(ctx)
}

type inprocDialPublisher struct {
	out fanOut
}

func (p *inprocDialPublisher) Publish(ctx context.Context, m *types.Message) error {
	return p.out.publish(ctx, m)
}

func (p *inprocDialPublisher) Close(ctx context.Context) error {
	return p.out.close(ctx)
}

type inprocSubscriber struct {
	in *fanIn
}

func (s *inprocSubscriber) Receive(ctx context.Context) (*types.Message, error) {
	return s.in.receive(ctx)
}

func (s *inprocSubscriber) Close() error {
	s.in.close()
	return nil
}

type inprocListenSubscriber struct {
	broker *Broker
	addr   address.TopicAddress
	in     *fanIn
}

func (s *inprocListenSubscriber) Receive(ctx context.Context) (*types.Message, error) {
	return s.in.receive(ctx)
}

func (s *inprocListenSubscriber) Close() error {
	s.broker.unregister(s.addr)
	s.in.close()
	return nil
}
