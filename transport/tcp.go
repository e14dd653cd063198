package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/hiagors92/open-filter-challange/address"
	"github.com/hiagors92/open-filter-challange/types"
)

const (
	roleSub          = "sub"
	rolePub          = "pub"
	handshakeTimeout = 5 * time.Second
	dialTimeout      = 2 * time.Second
)

func listen(addr address.TopicAddress, policy Policy) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr.ListenAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %w", types.ErrBind, addr, err)
	}
	return netutil.LimitListener(ln, policy.MaxConnections), nil
}

// dial connects to addr and performs the hello/ack exchange, retrying with
// backoff. A rejected handshake is not retried.
func dial(ctx context.Context, addr address.TopicAddress, policy Policy, role string) (net.Conn, error) {
	var conn net.Conn
	err := retry(ctx, policy, "connect "+addr.String(), func() error {
		d := net.Dialer{Timeout: dialTimeout}
		c, err := d.DialContext(ctx, "tcp", addr.DialAddr())
		if err != nil {
			return err
		}
		if err := clientHandshake(c, role, addr.Topic); err != nil {
			c.Close()
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

func clientHandshake(c net.Conn, role, topic string) error {
	_ = c.SetDeadline(time.Now().Add(handshakeTimeout))
	defer c.SetDeadline(time.Time{}) //nolint:errcheck

	if err := writeJSONFrame(c, frameHello, hello{Role: role, Topic: topic}); err != nil {
		return err
	}
	kind, payload, err := readFrame(c)
	if err != nil {
		return err
	}
	if kind != frameAck {
		return permanentError{fmt.Errorf("unexpected frame %d during handshake", kind)}
	}
	var a ack
	if err := json.Unmarshal(payload, &a); err != nil {
		return permanentError{fmt.Errorf("decoding handshake ack: %w", err)}
	}
	if a.Error != "" {
		return permanentError{errors.New(a.Error)}
	}
	return nil
}

// serverHandshake reads the dialer's hello and checks it against the bound
// topic and the role this side expects from its peer.
func serverHandshake(c net.Conn, wantRole, topic string) error {
	_ = c.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer c.SetReadDeadline(time.Time{}) //nolint:errcheck

	kind, payload, err := readFrame(c)
	if err != nil {
		return err
	}
	if kind != frameHello {
		return fmt.Errorf("expected hello frame, got %d", kind)
	}
	var h hello
	if err := json.Unmarshal(payload, &h); err != nil {
		return fmt.Errorf("decoding hello: %w", err)
	}
	if h.Role != wantRole {
		return fmt.Errorf("peer role %q cannot attach here (want %q)", h.Role, wantRole)
	}
	if h.Topic != topic {
		return fmt.Errorf("topic %q not served here (serving %q)", h.Topic, topic)
	}
	return nil
}

func reject(c net.Conn, reason error) {
	_ = c.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	_ = writeJSONFrame(c, frameAck, ack{Error: reason.Error()})
	c.Close()
}

// connPeer wraps c in a peer that writes data frames and ends with an
// end-of-stream frame on clean close.
func connPeer(c net.Conn, policy Policy, onFinish func()) *peer {
	bw := bufio.NewWriter(c)
	deliver := func(m *types.Message) error {
		if err := writeMessage(bw, m); err != nil {
			return err
		}
		return bw.Flush()
	}
	finish := func(err error) {
		if err == nil {
			if werr := writeFrame(bw, frameEOS, nil); werr == nil {
				_ = bw.Flush()
			}
		}
		c.Close()
		if onFinish != nil {
			onFinish()
		}
	}
	return newPeer(c.RemoteAddr().String(), policy, deliver, finish)
}

// tcpPublisher is a bind-mode output: it accepts subscribers and fans out.
type tcpPublisher struct {
	addr   address.TopicAddress
	ln     net.Listener
	policy Policy
	out    fanOut
	wg     sync.WaitGroup
}

func listenPublisher(addr address.TopicAddress, policy Policy) (*tcpPublisher, error) {
	ln, err := listen(addr, policy)
	if err != nil {
		return nil, err
	}
	p := &tcpPublisher{addr: addr, ln: ln, policy: policy}
	p.wg.Add(1)
	go p.acceptLoop()
	return p, nil
}

func (p *tcpPublisher) acceptLoop() {
	defer p.wg.Done()
	for {
		c, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.attach(c)
		}()
	}
}

func (p *tcpPublisher) attach(c net.Conn) {
	if err := serverHandshake(c, roleSub, p.addr.Topic); err != nil {
		reject(c, err)
		return
	}
	pr := connPeer(c, p.policy, nil)
	if !p.out.add(pr) {
		reject(c, errClosed)
		return
	}
	// The ack must be the first frame on the wire, so the writer starts after it.
	if err := writeJSONFrame(c, frameAck, ack{}); err != nil {
		p.out.remove(pr)
		pr.close()
		c.Close()
		return
	}
	pr.start()
}

func (p *tcpPublisher) Publish(ctx context.Context, m *types.Message) error {
	return p.out.publish(ctx, m)
}

func (p *tcpPublisher) Close(ctx context.Context) error {
	p.ln.Close()
	err := p.out.close(ctx)
	p.wg.Wait()
	return err
}

// tcpDialPublisher is a connect-mode output feeding a bind-mode input.
type tcpDialPublisher struct {
	out fanOut
}

func dialPublisher(ctx context.Context, addr address.TopicAddress, policy Policy) (*tcpDialPublisher, error) {
	c, err := dial(ctx, addr, policy, rolePub)
	if err != nil {
		return nil, err
	}
	p := &tcpDialPublisher{}
	pr := connPeer(c, policy, nil)
	p.out.add(pr)
	pr.start()
	return p, nil
}

func (p *tcpDialPublisher) Publish(ctx context.Context, m *types.Message) error {
	if err := p.out.publish(ctx, m); err != nil {
		return err
	}
	if len(p.out.snapshot()) == 0 {
		return fmt.Errorf("%w: upstream connection lost", types.ErrBind)
	}
	return nil
}

func (p *tcpDialPublisher) Close(ctx context.Context) error {
	return p.out.close(ctx)
}

// tcpSubscriber is a connect-mode input reading frames from one publisher.
type tcpSubscriber struct {
	addr address.TopicAddress
	conn net.Conn
	br   *bufio.Reader
	err  error
}

func dialSubscriber(ctx context.Context, addr address.TopicAddress, policy Policy) (*tcpSubscriber, error) {
	c, err := dial(ctx, addr, policy, roleSub)
	if err != nil {
		return nil, err
	}
	return &tcpSubscriber{addr: addr, conn: c, br: bufio.NewReader(c)}, nil
}

func (s *tcpSubscriber) Receive(ctx context.Context) (*types.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	m, err := readConn(ctx, s.conn, s.br)
	if err != nil {
		if !errors.Is(err, io.EOF) && ctx.Err() == nil {
			err = fmt.Errorf("%w: receive %s: %w", types.ErrBind, s.addr, err)
		}
		s.err = err
		return nil, err
	}
	return m, nil
}

func (s *tcpSubscriber) Close() error {
	return s.conn.Close()
}

// readConn reads the next data frame, unblocking when ctx is done. It
// returns io.EOF on an end-of-stream frame.
func readConn(ctx context.Context, c net.Conn, r io.Reader) (*types.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetReadDeadline(time.Now())
	})
	kind, payload, err := readFrame(r)
	if !stop() && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.New("connection closed before end-of-stream")
		}
		return nil, err
	}
	switch kind {
	case frameData:
		return decodeMessage(payload)
	case frameEOS:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("unexpected frame %d", kind)
	}
}

// tcpListenSubscriber is a bind-mode input merging any number of
// connect-mode publishers.
type tcpListenSubscriber struct {
	addr address.TopicAddress
	ln   net.Listener
	in   *fanIn

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func listenSubscriber(addr address.TopicAddress, policy Policy) (*tcpListenSubscriber, error) {
	ln, err := listen(addr, policy)
	if err != nil {
		return nil, err
	}
	s := &tcpListenSubscriber{
		addr:  addr,
		ln:    ln,
		in:    newFanIn(policy.queueSize()),
		conns: make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

func (s *tcpListenSubscriber) acceptLoop() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(c)
		}()
	}
}

func (s *tcpListenSubscriber) serve(c net.Conn) {
	if err := serverHandshake(c, rolePub, s.addr.Topic); err != nil {
		reject(c, err)
		return
	}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()

	s.in.attach()
	if err := writeJSONFrame(c, frameAck, ack{}); err != nil {
		s.in.detach(nil)
		return
	}

	br := bufio.NewReader(c)
	ctx := context.Background()
	for {
		m, err := readConn(ctx, c, br)
		if errors.Is(err, io.EOF) {
			s.in.detach(nil)
			return
		}
		if err != nil {
			select {
			case <-s.in.closed:
				s.in.detach(nil)
			default:
				s.in.detach(fmt.Errorf("%w: receive %s: %w", types.ErrBind, s.addr, err))
			}
			return
		}
		if err := s.in.push(ctx, m); err != nil {
			s.in.detach(nil)
			return
		}
	}
}

func (s *tcpListenSubscriber) Receive(ctx context.Context) (*types.Message, error) {
	return s.in.receive(ctx)
}

func (s *tcpListenSubscriber) Close() error {
	s.ln.Close()
	s.in.close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
