package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/auditmesh/artifact"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/metrics"
	"github.com/hupe1980/auditmesh/session"
)

// ErrRunNotFound is returned by Cancel for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

const tracerName = "github.com/hupe1980/auditmesh/runner"

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// MaxConcurrentInvocations bounds the runs in flight. Run blocks until
	// a slot is free or its context ends.
	MaxConcurrentInvocations int
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// MaxModelCalls limits the number of model calls per run.
	MaxModelCalls int
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	Logger        logging.Logger
	Metrics       *metrics.Metrics
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Runner coordinates agent execution. Public methods are safe for
// concurrent use.
type Runner struct {
	agent core.Agent

	eventBufferSize int
	maxModelCalls   int

	sessionStore  core.SessionStore
	artifactStore core.ArtifactStore
	logger        logging.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	slots         *semaphore.Weighted

	mu         sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// New constructs a Runner for agent.
func New(agent core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentInvocations: 10,
		EventBufferSize:          100,
		MaxModelCalls:            100,
		SessionStore:             session.NewInMemoryStore(),
		ArtifactStore:            artifact.NewInMemoryStore(),
		Logger:                   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrentInvocations < 1 {
		opts.MaxConcurrentInvocations = 1
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Runner{
		agent:           agent,
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		sessionStore:    opts.SessionStore,
		artifactStore:   opts.ArtifactStore,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		tracer:          tp.Tracer(tracerName),
		slots:           semaphore.NewWeighted(int64(opts.MaxConcurrentInvocations)),
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// Agent returns the root agent.
func (r *Runner) Agent() core.Agent { return r.agent }

// SessionStore returns the store runs persist to.
func (r *Runner) SessionStore() core.SessionStore { return r.sessionStore }

// ArtifactStore returns the store artifacts are saved to.
func (r *Runner) ArtifactStore() core.ArtifactStore { return r.artifactStore }

// Run starts an asynchronous run. The events channel is closed when the
// agent finished and every event was processed; afterwards the error
// channel yields at most one error and is closed.
func (r *Runner) Run(
	ctx context.Context,
	sessionID string,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return "", nil, nil, fmt.Errorf("acquire run slot: %w", err)
	}

	sess, err := r.sessionStore.Get(sessionID)
	if err != nil {
		r.slots.Release(1)
		return "", nil, nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	runID := core.NewID()

	if userContent.Role == "" {
		userContent.Role = core.RoleUser
	}

	if err := r.sessionStore.AppendEvent(sessionID, core.NewUserContentEvent(runID, &userContent)); err != nil {
		r.slots.Release(1)
		return "", nil, nil, fmt.Errorf("append user event: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("agent.name", r.agent.Name()),
		attribute.String("session.id", sessionID),
		attribute.String("run.id", runID),
	))

	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)
	agentEmit := make(chan core.Event, r.eventBufferSize)
	agentDone := make(chan error, 1)

	runCtx := core.NewRunContext(
		ctx,
		sessionID,
		runID,
		agentInfo(r.agent),
		userContent,
		r.maxModelCalls,
		agentEmit,
		sess,
		r.sessionStore,
		r.artifactStore,
		logging.With(r.logger, "run_id", runID, "session_id", sessionID),
	)

	r.logger.Info("runner.run.start", "agent", r.agent.Name(), "run_id", runID, "session_id", sessionID)
	r.metrics.RunStarted()
	start := time.Now()

	go func() {
		defer close(agentEmit)
		agentDone <- r.runAgent(runCtx)
	}()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			cancel()
			r.slots.Release(1)
			close(eventsCh)
			close(errorsCh)
		}()

		processErr := r.processEvents(ctx, cancel, sessionID, agentEmit, eventsCh)
		runErr := errors.Join(<-agentDone, processErr)

		status := metrics.StatusOK
		switch {
		case runErr == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(runErr, context.Canceled):
			status = metrics.StatusCancelled
			span.SetStatus(codes.Error, "cancelled")
		default:
			status = metrics.StatusError
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
		}

		d := time.Since(start)
		span.SetAttributes(attribute.String("run.status", status))
		span.End()
		r.metrics.RunFinished(r.agent.Name(), status, d)

		if runErr != nil {
			r.logger.Warn("runner.run.failed", "agent", r.agent.Name(), "run_id", runID, "status", status, "error", runErr.Error())
			errorsCh <- fmt.Errorf("run %s: %w", runID, runErr)
			return
		}

		r.logger.Info("runner.run.complete", "agent", r.agent.Name(), "run_id", runID, "duration_ms", d.Milliseconds())
	}()

	return runID, eventsCh, errorsCh, nil
}

// Cancel cancels an active run.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, ok := r.activeRuns[runID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()

	return nil
}

// ActiveRuns returns the number of runs in flight.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeRuns)
}

func (r *Runner) runAgent(runCtx *core.RunContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent %s panicked: %v", r.agent.Name(), rec)
		}
	}()

	if err := r.agent.Start(runCtx); err != nil {
		return fmt.Errorf("start agent %s: %w", r.agent.Name(), err)
	}

	defer func() {
		if err := r.agent.Stop(runCtx); err != nil {
			r.logger.Warn("runner.agent.stop_failed", "agent", r.agent.Name(), "error", err.Error())
		}
	}()

	return r.agent.Run(runCtx)
}

// processEvents persists and forwards events until the agent closes its
// emit channel. A persistence failure cancels the run; remaining events
// are drained but no longer forwarded.
func (r *Runner) processEvents(
	ctx context.Context,
	cancel context.CancelFunc,
	sessionID string,
	agentEmit <-chan core.Event,
	eventsCh chan<- core.Event,
) error {
	var persistErr error

	for ev := range agentEmit {
		if persistErr != nil {
			continue
		}

		if err := r.persist(sessionID, ev); err != nil {
			persistErr = err
			cancel()
			continue
		}

		r.metrics.EventEmitted(ev.Author, eventKind(ev))

		select {
		case <-ctx.Done():
		case eventsCh <- ev:
		}
	}

	return persistErr
}

func (r *Runner) persist(sessionID string, ev core.Event) error {
	if len(ev.Actions.StateDelta) > 0 {
		if err := r.sessionStore.ApplyDelta(sessionID, ev.Actions.StateDelta); err != nil {
			return fmt.Errorf("apply state delta: %w", err)
		}
	}

	if ev.IsPartial() {
		return nil
	}

	if err := r.sessionStore.AppendEvent(sessionID, ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if ev.Actions.Escalate != nil && *ev.Actions.Escalate {
		r.logger.Debug("runner.event.escalate", "session_id", sessionID, "author", ev.Author)
	}

	return nil
}

func agentInfo(a core.Agent) core.AgentInfo {
	if ia, ok := a.(interface{ Info() core.AgentInfo }); ok {
		return ia.Info()
	}
	return core.AgentInfo{Name: a.Name(), Type: "custom"}
}

func eventKind(ev core.Event) string {
	switch {
	case ev.IsError():
		return "error"
	case ev.IsPartial():
		return "partial"
	case len(ev.GetFunctionCalls()) > 0:
		return "function_call"
	case len(ev.GetFunctionResponses()) > 0:
		return "function_response"
	default:
		return "message"
	}
}

// Collect drains a run and returns the non-partial events. It returns
// the run error, if any, together with the events received before it.
func Collect(ctx context.Context, events <-chan core.Event, errs <-chan error) ([]core.Event, error) {
	var out []core.Event

	for events != nil {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !ev.IsPartial() {
				out = append(out, ev)
			}
		}
	}

	select {
	case <-ctx.Done():
		return out, ctx.Err()
	case err := <-errs:
		return out, err
	}
}
