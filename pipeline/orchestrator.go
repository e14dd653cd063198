package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hiagors92/open-filter-challange/registry"
	"github.com/hiagors92/open-filter-challange/runtime"
	"github.com/hiagors92/open-filter-challange/transport"
	"github.com/hiagors92/open-filter-challange/types"
)

const tracerName = "github.com/hiagors92/open-filter-challange/pipeline"

// Observer receives every stage state change of a run, in order per stage.
type Observer func(runtime.StateEvent)

// Orchestrator runs pipeline specs against a registry of implementations.
type Orchestrator struct {
	registry  *registry.Registry
	logger    runtime.Logger
	hooks     *runtime.HookRegistry
	metrics   *runtime.Metrics
	tracer    trace.Tracer
	observers []Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l runtime.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithHooks installs stage hooks.
func WithHooks(h *runtime.HookRegistry) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithMetrics sets where stage metrics are recorded.
func WithMetrics(m *runtime.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracerProvider sets the tracer provider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

// WithObserver adds a state change observer. Observers are called
// synchronously and must return quickly.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// New creates an orchestrator resolving implementations from reg.
func New(reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: reg}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = runtime.NopLogger{}
	}
	if o.metrics == nil {
		o.metrics = runtime.NewMetrics(nil)
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	return o
}

// Metrics returns the collectors stage metrics are recorded in.
func (o *Orchestrator) Metrics() *runtime.Metrics { return o.metrics }

// run is the state of one Run call.
type run struct {
	o      *Orchestrator
	id     uuid.UUID
	spec   *Spec
	stages []*runtime.Stage
	order  []int

	mu       sync.Mutex
	firstErr error
	changed  chan struct{}
}

// Run validates spec, starts every stage and supervises them until all are
// terminal. It always returns exactly one Outcome; cancelling ctx stops the
// pipeline in an orderly way.
func (o *Orchestrator) Run(ctx context.Context, spec *Spec) *Outcome {
	return o.run(ctx, spec, nil)
}

// RunConfig builds a Spec from cfg and runs it. A config that cannot be
// turned into a Spec fails the run before any stage is created.
func (o *Orchestrator) RunConfig(ctx context.Context, cfg *types.PipelineConfig) *Outcome {
	spec, err := BuildSpec(cfg)
	if err != nil {
		spec = &Spec{}
		if cfg != nil {
			spec.Name = cfg.Name
		}
		return o.run(ctx, spec, err)
	}
	return o.Run(ctx, spec)
}

func (o *Orchestrator) run(ctx context.Context, spec *Spec, buildErr error) *Outcome {
	r := &run{o: o, id: uuid.New(), spec: spec, firstErr: buildErr, changed: make(chan struct{}, 1)}
	started := time.Now()

	name := "pipeline"
	if spec != nil && spec.Name != "" {
		name = spec.Name
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("pipeline.name", name),
		attribute.String("pipeline.run_id", r.id.String()),
	))
	defer span.End()

	o.logger.Info("pipeline starting", map[string]any{"pipeline": name, "run_id": r.id.String()})
	r.execute(ctx)

	out := r.outcome(started)
	if out.Success {
		span.SetStatus(codes.Ok, "")
		o.logger.Info("pipeline finished", map[string]any{"pipeline": name, "run_id": r.id.String(), "duration": out.Duration().String()})
	} else {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		o.logger.Error("pipeline failed", map[string]any{"pipeline": name, "run_id": r.id.String(), "error": out.Err})
	}
	return out
}

func (r *run) execute(ctx context.Context) {
	if r.failure() != nil {
		return
	}
	if err := Validate(r.spec); err != nil {
		r.fail(err)
		return
	}
	order, err := StartOrder(r.spec)
	if err != nil {
		r.fail(err)
		return
	}
	r.order = order

	if err := r.build(); err != nil {
		r.fail(err)
		return
	}
	if err := r.initAll(ctx); err != nil {
		r.fail(err)
		r.shutdown()
		return
	}

	if !r.startAll(ctx) {
		r.shutdown()
		return
	}

	for _, i := range r.order {
		st := r.stages[i]
		go st.Run(ctx) //nolint:errcheck
	}
	r.supervise(ctx)
}

// build resolves every implementation and creates the stage runtimes. No
// filter code runs here.
func (r *run) build() error {
	opener := &transport.Opener{Broker: transport.NewBroker()}
	deps := runtime.Deps{
		Opener:         opener,
		Logger:         r.o.logger,
		Hooks:          r.o.hooks,
		Metrics:        r.o.metrics,
		OnEvent:        r.onEvent,
		ConnectRetries: r.spec.Defaults.ConnectRetries,
		ConnectBackoff: r.spec.Defaults.ConnectBackoff,
	}
	stages := make([]*runtime.Stage, 0, len(r.spec.Stages))
	for _, d := range r.spec.Stages {
		_, factory, err := r.o.registry.Resolve(d.Implementation)
		if err != nil {
			return types.WrapStage(d.Name, err)
		}
		f := factory()
		if f == nil {
			return types.WrapStage(d.Name, types.ConfigError("implementation %q returned no filter", d.Implementation))
		}
		stages = append(stages, runtime.New(d.Options, f, deps))
	}
	r.stages = stages
	return nil
}

// initAll initialises every filter concurrently. The first failure cancels
// the rest; filters already initialised are shut down by the caller.
func (r *run) initAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range r.stages {
		g.Go(func() error {
			return st.Init(gctx)
		})
	}
	return g.Wait()
}

// startAll binds stages in dependency order. It reports false if a stage
// failed to start or the run was cancelled during startup.
func (r *run) startAll(ctx context.Context) bool {
	for _, i := range r.order {
		if ctx.Err() != nil {
			r.o.logger.Warn("startup cancelled", map[string]any{"before": r.stages[i].Name()})
			return false
		}
		st := r.stages[i]
		sctx, span := r.o.tracer.Start(ctx, "stage.Start", trace.WithAttributes(
			attribute.String("stage.name", st.Name()),
			attribute.String("stage.implementation", st.Options().Implementation),
		))
		err := st.Start(sctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			r.fail(err)
			return false
		}
		if st.State() != runtime.Running {
			return false
		}
	}
	return true
}

// supervise waits for state changes until every stage is terminal. The
// first failure, or ctx being cancelled, triggers an orderly shutdown.
func (r *run) supervise(ctx context.Context) {
	stopping := false
	cancelled := ctx.Done()
	for !r.allTerminal() {
		select {
		case <-r.changed:
			if !stopping && r.failure() != nil {
				stopping = true
				r.o.logger.Warn("stage failed, stopping pipeline", map[string]any{"error": r.failure()})
				r.shutdown()
			}
		case <-cancelled:
			cancelled = nil
			if !stopping {
				stopping = true
				r.o.logger.Info("pipeline cancelled, stopping", nil)
				r.shutdown()
			}
		}
	}
	for _, st := range r.stages {
		<-st.Done()
	}
}

// shutdown stops every stage in reverse start order, killing those that
// ignore the stop for longer than their stop timeout.
func (r *run) shutdown() {
	order := r.order
	if len(order) != len(r.stages) {
		order = make([]int, len(r.stages))
		for i := range order {
			order[i] = i
		}
	}
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		st := r.stages[i]
		st.Stop()
		timeout := r.spec.Stages[i].stopTimeout()
		timer := time.NewTimer(timeout)
		select {
		case <-st.Done():
		case <-timer.C:
			r.o.logger.Warn("stage ignored stop, forcing termination", map[string]any{"stage": st.Name(), "timeout": timeout.String()})
			st.Kill()
		}
		timer.Stop()
	}
}

func (r *run) onEvent(ev runtime.StateEvent) {
	r.mu.Lock()
	if ev.To == runtime.Failed && r.firstErr == nil {
		r.firstErr = ev.Reason
	}
	for _, obs := range r.o.observers {
		obs(ev)
	}
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// fail records err unless an earlier failure is already known.
func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.firstErr == nil {
		r.firstErr = err
	}
}

func (r *run) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstErr
}

func (r *run) allTerminal() bool {
	for _, st := range r.stages {
		if !st.State().Terminal() {
			return false
		}
	}
	return true
}

func (r *run) outcome(started time.Time) *Outcome {
	out := &Outcome{
		RunID:      r.id,
		Stages:     make([]string, 0),
		States:     make(map[string]runtime.StateSnapshot),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if r.spec != nil {
		out.Pipeline = r.spec.Name
		for _, d := range r.spec.Stages {
			out.Stages = append(out.Stages, d.Name)
			out.States[d.Name] = runtime.StateSnapshot{State: runtime.Pending, Since: started}
		}
	}
	for _, st := range r.stages {
		out.States[st.Name()] = st.Snapshot()
	}

	out.Err = r.failure()
	out.Success = out.Err == nil && len(r.stages) > 0
	for _, st := range r.stages {
		if st.State() != runtime.Stopped {
			out.Success = false
		}
	}
	if !out.Success && out.Err == nil {
		out.Err = errors.New("pipeline did not complete")
		for _, name := range out.Stages {
			if snap := out.States[name]; snap.State != runtime.Stopped {
				out.Err = fmt.Errorf("stage %s ended %s", name, snap.State)
				break
			}
		}
	}
	return out
}
