// Package auditmesh wires configured agents into runnable services. Most
// applications:
//  1. create a Mesh via New (overriding the in-memory stores if needed)
//  2. register the env agent, the auditor or any custom agent
//  3. ask an agent synchronously (Ask) or stream its events (Run), or
//     serve it to A2A peers (Serve)
//
// Every registered agent gets its own runner; all runners share the
// session store, artifact store, logger, metrics and tracer provider.
package auditmesh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/auditmesh/a2a"
	"github.com/hupe1980/auditmesh/artifact"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/metrics"
	"github.com/hupe1980/auditmesh/runner"
	"github.com/hupe1980/auditmesh/session"
)

// ErrUnknownAgent is returned for agent names that were never registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Options configures a Mesh.
type Options struct {
	// MaxConcurrentInvocations caps concurrent runs per agent.
	MaxConcurrentInvocations int
	EventBufferSize          int

	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore

	Logger         logging.Logger
	Metrics        *metrics.Metrics
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Mesh holds the registered agents and their runners.
type Mesh struct {
	opts Options

	mu      sync.RWMutex
	runners map[string]*runner.Runner
}

// New creates a mesh. Unset stores default to in-memory implementations.
func New(optFns ...func(o *Options)) *Mesh {
	opts := Options{
		MaxConcurrentInvocations: 10,
		EventBufferSize:          100,
		SessionStore:             session.NewInMemoryStore(),
		ArtifactStore:            artifact.NewInMemoryStore(),
		Logger:                   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Mesh{opts: opts, runners: make(map[string]*runner.Runner)}
}

// Register adds a root agent. A later registration under the same name
// replaces the earlier one.
func (m *Mesh) Register(a core.Agent) *runner.Runner {
	r := runner.New(a, func(o *runner.Options) {
		o.MaxConcurrentInvocations = m.opts.MaxConcurrentInvocations
		o.EventBufferSize = m.opts.EventBufferSize
		o.SessionStore = m.opts.SessionStore
		o.ArtifactStore = m.opts.ArtifactStore
		o.Logger = m.opts.Logger
		o.Metrics = m.opts.Metrics
		o.TracerProvider = m.opts.TracerProvider
	})

	m.mu.Lock()
	m.runners[a.Name()] = r
	m.mu.Unlock()

	m.opts.Logger.Debug("mesh.register", "agent", a.Name())

	return r
}

// Agents lists the registered agent names in sorted order.
func (m *Mesh) Agents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.runners))
	for name := range m.runners {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Runner returns the runner of a registered agent.
func (m *Mesh) Runner(agentName string) (*runner.Runner, error) {
	m.mu.RLock()
	r, ok := m.runners[agentName]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}

	return r, nil
}

// SessionStore returns the shared session store.
func (m *Mesh) SessionStore() core.SessionStore { return m.opts.SessionStore }

// Run starts an asynchronous run and returns its event and error channels.
func (m *Mesh) Run(
	ctx context.Context,
	sessionID string,
	agentName string,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	r, err := m.Runner(agentName)
	if err != nil {
		return "", nil, nil, err
	}
	return r.Run(ctx, sessionID, userContent)
}

// Result is the outcome of a synchronous run.
type Result struct {
	RunID string
	// Events are the non-partial events of the run.
	Events []core.Event
	// State is the session state after the run.
	State map[string]any
}

// Text returns the text of the last event that carries content.
func (r Result) Text() string {
	for i := len(r.Events) - 1; i >= 0; i-- {
		if r.Events[i].Content != nil && !r.Events[i].IsError() {
			return r.Events[i].Text()
		}
	}
	return ""
}

// Ask runs agentName on a user message and waits for the run to finish.
func (m *Mesh) Ask(ctx context.Context, sessionID, agentName, message string) (Result, error) {
	runID, events, errs, err := m.Run(ctx, sessionID, agentName, core.NewTextContent(core.RoleUser, message))
	if err != nil {
		return Result{}, err
	}

	collected, err := runner.Collect(ctx, events, errs)
	res := Result{RunID: runID, Events: collected}

	if sess, getErr := m.opts.SessionStore.Get(sessionID); getErr == nil {
		res.State = sess.State
	}

	return res, err
}

// Serve exposes agentName over A2A on addr until ctx is done.
func (m *Mesh) Serve(ctx context.Context, agentName, addr string, optFns ...func(o *a2a.ServerOptions)) error {
	r, err := m.Runner(agentName)
	if err != nil {
		return err
	}

	srv := a2a.NewServer(r, append([]func(o *a2a.ServerOptions){
		func(o *a2a.ServerOptions) {
			o.Logger = m.opts.Logger
			o.Metrics = m.opts.Metrics
		},
	}, optFns...)...)

	return srv.ListenAndServe(ctx, addr)
}
