package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hiagors92/open-filter-challange/transport"
	"github.com/hiagors92/open-filter-challange/types"
)

var errStopRequested = errors.New("stop requested")

// Deps are the collaborators a stage borrows from its pipeline run.
type Deps struct {
	Opener  *transport.Opener
	Logger  Logger
	Hooks   *HookRegistry
	Metrics *Metrics
	// OnEvent receives every state change. It must not block.
	OnEvent        func(StateEvent)
	ConnectRetries int
	ConnectBackoff time.Duration
}

// Stage wraps one Filter: it binds the declared addresses, runs the
// receive/process/publish loop and tracks the stage's State.
//
// The lifecycle is Init, Start, Run. Stop may be called at any point and
// more than once; Kill abandons a stage that ignored Stop.
type Stage struct {
	opts    Options
	filter  Filter
	deps    Deps
	metrics *StageMetrics

	// procCtx is handed to the filter. It is only cancelled by Kill so a
	// cooperative stop lets the current message finish.
	procCtx context.Context
	kill    context.CancelCauseFunc

	mu          sync.Mutex
	state       State
	reason      error
	since       time.Time
	initialized bool
	starting    bool
	claimed     bool // teardown is owned by Run or by an idle Stop
	pubs        []transport.Publisher
	subs        []transport.Subscriber

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a pending stage for filter. Zero-valued deps get working
// defaults.
func New(opts Options, filter Filter, deps Deps) *Stage {
	if deps.Opener == nil {
		deps.Opener = &transport.Opener{}
	}
	if deps.Logger == nil {
		deps.Logger = NopLogger{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	procCtx, kill := context.WithCancelCause(context.Background())
	s := &Stage{
		opts:    opts,
		filter:  filter,
		deps:    deps,
		metrics: deps.Metrics.ForStage(opts.Name),
		procCtx: procCtx,
		kill:    kill,
		state:   Pending,
		since:   time.Now(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.metrics.State.Set(float64(Pending))
	return s
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.opts.Name }

// Options returns the stage configuration.
func (s *Stage) Options() Options { return s.opts }

// State returns the current state.
func (s *Stage) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure reason, or nil unless the stage failed.
func (s *Stage) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Snapshot returns the current state, its reason and when it was entered.
func (s *Stage) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{State: s.state, Reason: s.reason, Since: s.since}
}

// Done is closed once the stage reached a terminal state and released its
// endpoints, or was killed.
func (s *Stage) Done() <-chan struct{} { return s.done }

// Init initialises the filter. Any failure is reported as ErrConfiguration
// and leaves the stage Failed.
func (s *Stage) Init(ctx context.Context) error {
	err := s.filter.Init(ctx, s.opts)
	if err == nil {
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil
	}
	if !errors.Is(err, ErrConfiguration) {
		err = fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	err = types.WrapStage(s.opts.Name, err)
	if s.claim() {
		s.finish(err)
	}
	return err
}

// Start binds outputs, then inputs, and moves the stage to Running. No
// message is processed until Run is called.
func (s *Stage) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Pending || s.claimed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("stage %s: cannot start from state %s", s.opts.Name, state)
	}
	s.starting = true
	s.mu.Unlock()

	policy := s.policy()
	err := s.bind(ctx, policy)

	s.mu.Lock()
	s.starting = false
	stopped := isClosed(s.stopCh)
	owner := !s.claimed && (err != nil || stopped)
	if owner {
		s.claimed = true
	}
	s.mu.Unlock()

	switch {
	case err != nil && ctx.Err() != nil:
		// Startup was cancelled, not broken.
		if owner {
			s.finish(nil)
		}
		return nil
	case err != nil:
		err = types.WrapStage(s.opts.Name, err)
		if owner {
			s.finish(err)
		}
		return err
	case stopped:
		if owner {
			s.finish(nil)
		}
		return nil
	}
	s.transition(Running, nil)
	return nil
}

func (s *Stage) bind(ctx context.Context, policy transport.Policy) error {
	for _, addr := range s.opts.Outputs {
		pub, err := s.deps.Opener.OpenPublisher(ctx, addr, policy)
		if err != nil {
			return fmt.Errorf("output %s: %w", addr, err)
		}
		s.mu.Lock()
		s.pubs = append(s.pubs, pub)
		s.mu.Unlock()
		s.deps.Logger.Debug("output bound", map[string]any{"stage": s.opts.Name, "address": addr.String(), "mode": string(addr.BindMode)})
	}
	for _, addr := range s.opts.Inputs {
		sub, err := s.deps.Opener.OpenSubscriber(ctx, addr, policy)
		if err != nil {
			return fmt.Errorf("input %s: %w", addr, err)
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
		s.deps.Logger.Debug("input bound", map[string]any{"stage": s.opts.Name, "address": addr.String(), "mode": string(addr.BindMode)})
	}
	return nil
}

// Run drives the stage until its inputs end, Stop is called, or it fails.
// It returns the failure reason, or nil if the stage stopped cleanly.
func (s *Stage) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.claimed || s.state != Running {
		s.mu.Unlock()
		<-s.done
		return s.Err()
	}
	s.claimed = true
	subs, pubs := s.subs, s.pubs
	s.mu.Unlock()

	var err error
	if gen, ok := s.filter.(Generator); ok && len(subs) == 0 {
		err = s.generate(ctx, gen, pubs)
	} else {
		err = s.consume(ctx, subs, pubs)
	}
	s.finish(err)
	return s.Err()
}

// Stop asks the stage to finish its current message, drain and stop. It
// never blocks and only the first call has an effect.
func (s *Stage) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		idle := !s.claimed && !s.starting && !s.state.Terminal()
		if idle {
			s.claimed = true
		}
		s.mu.Unlock()
		if idle {
			go s.finish(nil)
		}
	})
}

// Kill cancels the filter's context and marks the stage Failed with
// ErrForcedTermination. The stage goroutine is abandoned if it does not
// return.
func (s *Stage) Kill() {
	s.kill(ErrForcedTermination)
	if s.transition(Failed, types.WrapStage(s.opts.Name, ErrForcedTermination)) {
		s.deps.Logger.Warn("stage killed", map[string]any{"stage": s.opts.Name, "timeout": s.opts.StopTimeout.String()})
	}
	s.closeDone()
}

func (s *Stage) consume(ctx context.Context, subs []transport.Subscriber, pubs []transport.Publisher) error {
	if len(subs) == 0 {
		select {
		case <-s.stopCh:
			return nil
		case <-s.procCtx.Done():
			return context.Cause(s.procCtx)
		}
	}

	type received struct {
		msg *Message
		err error
	}
	rctx, cancel := context.WithCancel(s.procCtx)
	in := make(chan received)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := sub.Receive(rctx)
				select {
				case in <- received{msg: m, err: err}:
				case <-rctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	open := len(subs)
	for open > 0 {
		select {
		case <-s.stopCh:
			return nil
		case <-s.procCtx.Done():
			return context.Cause(s.procCtx)
		case r := <-in:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					open--
					continue
				}
				if s.procCtx.Err() != nil {
					return context.Cause(s.procCtx)
				}
				return bindError(r.err)
			}
			if err := s.handle(ctx, r.msg, pubs); err != nil {
				if errors.Is(err, ErrEndOfStream) {
					return nil
				}
				return err
			}
		}
	}
	s.deps.Logger.Debug("inputs exhausted", map[string]any{"stage": s.opts.Name})
	return nil
}

func (s *Stage) handle(ctx context.Context, m *Message, pubs []transport.Publisher) error {
	s.metrics.In.Inc()
	if err := s.deps.Hooks.Fire(ctx, BeforeProcess, &HookContext{Stage: s.opts.Name, Message: m}); err != nil {
		return s.processingError(err)
	}

	start := time.Now()
	outs, err := s.process(m)
	s.metrics.observe(start)
	eos := errors.Is(err, ErrEndOfStream)
	if err != nil && !eos {
		return s.processingError(err)
	}

	if herr := s.deps.Hooks.Fire(ctx, AfterProcess, &HookContext{Stage: s.opts.Name, Message: m, Outputs: outs}); herr != nil {
		return s.processingError(herr)
	}
	if perr := s.publish(outs, pubs); perr != nil {
		return perr
	}
	if eos {
		return ErrEndOfStream
	}
	return nil
}

func (s *Stage) process(m *Message) (outs []*Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", s.opts.Implementation, r)
		}
	}()
	return s.filter.Process(s.procCtx, m)
}

func (s *Stage) publish(outs []*Message, pubs []transport.Publisher) error {
	for _, out := range outs {
		if out == nil {
			continue
		}
		out.Stage = s.opts.Name
		for i, pub := range pubs {
			if err := pub.Publish(s.procCtx, out); err != nil {
				if s.procCtx.Err() != nil {
					return context.Cause(s.procCtx)
				}
				return bindError(fmt.Errorf("publish %s: %w", s.opts.Outputs[i], err))
			}
		}
		s.metrics.Out.Inc()
	}
	return nil
}

func (s *Stage) generate(ctx context.Context, gen Generator, pubs []transport.Publisher) error {
	gctx, cancel := context.WithCancel(s.procCtx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-gctx.Done():
		}
	}()

	emit := func(m *Message) error {
		if isClosed(s.stopCh) {
			return errStopRequested
		}
		if err := s.deps.Hooks.Fire(ctx, AfterProcess, &HookContext{Stage: s.opts.Name, Outputs: []*Message{m}}); err != nil {
			return s.processingError(err)
		}
		return s.publish([]*Message{m}, pubs)
	}

	err := s.runGenerator(gctx, gen, emit)
	switch {
	case err == nil, errors.Is(err, ErrEndOfStream), errors.Is(err, errStopRequested):
		return nil
	case s.procCtx.Err() != nil:
		return context.Cause(s.procCtx)
	case isClosed(s.stopCh) && errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, ErrBind), errors.Is(err, ErrProcessing):
		return err
	}
	return s.processingError(err)
}

func (s *Stage) runGenerator(ctx context.Context, gen Generator, emit func(*Message) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", s.opts.Implementation, r)
		}
	}()
	return gen.Generate(ctx, emit)
}

// finish releases endpoints, shuts the filter down and records the
// terminal state. Only the owner of teardown calls it.
func (s *Stage) finish(runErr error) {
	s.mu.Lock()
	subs, pubs := s.subs, s.pubs
	s.subs, s.pubs = nil, nil
	initialized := s.initialized
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			s.deps.Logger.Debug("closing input", map[string]any{"stage": s.opts.Name, "error": err})
		}
	}
	for _, pub := range pubs {
		if err := pub.Close(s.procCtx); err != nil {
			s.deps.Logger.Warn("closing output", map[string]any{"stage": s.opts.Name, "error": err})
		}
	}
	if initialized {
		if err := s.shutdownFilter(); err != nil && runErr == nil {
			runErr = fmt.Errorf("%w: shutdown: %w", ErrProcessing, err)
		}
	}

	if runErr != nil {
		s.transition(Failed, types.WrapStage(s.opts.Name, runErr))
	} else {
		s.transition(Stopped, nil)
	}
	s.closeDone()
}

func (s *Stage) shutdownFilter() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s shutdown: %v", s.opts.Implementation, r)
		}
	}()
	return s.filter.Shutdown(s.procCtx)
}

// transition moves the stage to `to` and notifies observers. It reports
// false if the move is not allowed from the current state.
func (s *Stage) transition(to State, reason error) bool {
	s.mu.Lock()
	from := s.state
	if err := ValidateTransition(from, to); err != nil {
		s.mu.Unlock()
		return false
	}
	s.state, s.reason, s.since = to, reason, time.Now()
	ev := StateEvent{Stage: s.opts.Name, From: from, To: to, Reason: reason, At: s.since}
	s.mu.Unlock()

	s.metrics.State.Set(float64(to))
	fields := map[string]any{"stage": s.opts.Name, "from": from.String(), "state": to.String()}
	if reason != nil {
		fields["reason"] = reason.Error()
		s.deps.Logger.Error("stage state changed", fields)
	} else {
		s.deps.Logger.Info("stage state changed", fields)
	}

	_ = s.deps.Hooks.Fire(s.procCtx, OnStateChange, &HookContext{Stage: s.opts.Name, Event: &ev})
	if to == Failed {
		_ = s.deps.Hooks.Fire(s.procCtx, OnError, &HookContext{Stage: s.opts.Name, Event: &ev, Error: reason})
	}
	if s.deps.OnEvent != nil {
		s.deps.OnEvent(ev)
	}
	return true
}

func (s *Stage) policy() transport.Policy {
	return transport.Policy{
		MaxInFlight:    s.opts.MaxInFlight,
		ConnectRetries: s.deps.ConnectRetries,
		ConnectBackoff: s.deps.ConnectBackoff,
		OnDrop: func(m *Message) {
			s.metrics.Dropped.Inc()
			s.deps.Logger.Debug("message dropped", map[string]any{"stage": s.opts.Name, "seq": m.Seq})
		},
		OnPeerLost: func(peer string, err error) {
			s.deps.Logger.Warn("peer lost", map[string]any{"stage": s.opts.Name, "peer": peer, "error": err})
		},
	}
}

func (s *Stage) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

func (s *Stage) processingError(err error) error {
	s.metrics.Errors.Inc()
	if errors.Is(err, ErrProcessing) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProcessing, err)
}

func (s *Stage) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func bindError(err error) error {
	if errors.Is(err, ErrBind) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBind, err)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
