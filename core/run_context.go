package core

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/auditmesh/logging"
)

// RunContext is the mutable scope of a single agent run. It carries the
// cancellation context, identifiers, the user input, the emit channel,
// the backing stores and a session snapshot.
//
// SetState stages mutations in StateDelta. EmitEvent attaches the staged
// delta to the event, applies it to the local snapshot so later readers in
// the same run observe it, and clears the buffer. The runner persists the
// delta when it receives the event.
type RunContext struct {
	Context          context.Context
	SessionID, RunID string
	Agent            AgentInfo
	UserContent      Content
	Emit             chan<- Event
	SessionStore     SessionStore
	ArtifactStore    ArtifactStore
	Limiter          *ModelLimiter
	Session          *Session
	StateDelta       map[string]any
	Artifacts        []string
	Branch           string

	*loggerAdapter
}

// NewRunContext constructs a RunContext with empty state and artifact deltas.
func NewRunContext(
	ctx context.Context,
	sessionID, runID string,
	agent AgentInfo,
	userContent Content,
	maxModelCalls int,
	emit chan<- Event,
	sess *Session,
	sessionStore SessionStore,
	artifactStore ArtifactStore,
	logger logging.Logger,
) *RunContext {
	if sess == nil {
		sess = NewSession(sessionID)
	}
	return &RunContext{
		Context:       ctx,
		SessionID:     sessionID,
		RunID:         runID,
		Agent:         agent,
		UserContent:   userContent,
		Emit:          emit,
		Session:       sess,
		SessionStore:  sessionStore,
		ArtifactStore: artifactStore,
		Limiter:       NewModelLimiter(maxModelCalls),
		StateDelta:    map[string]any{},
		Artifacts:     []string{},
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the run is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error, if any.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// GetState returns a staged value if present, else the session value.
func (rc *RunContext) GetState(k string) (any, bool) {
	if v, ok := rc.StateDelta[k]; ok {
		return v, true
	}

	if rc.Session != nil {
		return rc.Session.GetState(k)
	}

	return nil, false
}

// GetStateString returns the state value under k if it is a string.
func (rc *RunContext) GetStateString(k string) (string, bool) {
	v, ok := rc.GetState(k)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// State returns the session state overlaid with the staged delta.
func (rc *RunContext) State() map[string]any {
	state := map[string]any{}
	if rc.Session != nil {
		state = rc.Session.StateSnapshot()
	}
	maps.Copy(state, rc.StateDelta)
	return state
}

// SetState stages a state mutation.
func (rc *RunContext) SetState(k string, v any) { rc.StateDelta[k] = v }

// ApplyStateDelta stages every pair of d.
func (rc *RunContext) ApplyStateDelta(d map[string]any) {
	maps.Copy(rc.StateDelta, d)
}

// AddArtifact stages an artifact id for the next emitted event.
func (rc *RunContext) AddArtifact(id string) { rc.Artifacts = append(rc.Artifacts, id) }

// SaveArtifact stores data and stages the id for the next emitted event.
func (rc *RunContext) SaveArtifact(id string, data []byte) error {
	if rc.ArtifactStore == nil {
		return fmt.Errorf("artifact %s: %w", id, ErrStoreNotConfigured)
	}

	if err := rc.ArtifactStore.Save(rc.SessionID, id, data); err != nil {
		return err
	}

	rc.AddArtifact(id)

	return nil
}

// GetArtifact loads a previously saved artifact.
func (rc *RunContext) GetArtifact(id string) ([]byte, error) {
	if rc.ArtifactStore == nil {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrStoreNotConfigured)
	}

	return rc.ArtifactStore.Get(rc.SessionID, id)
}

// ListArtifacts returns the artifact ids of the session.
func (rc *RunContext) ListArtifacts() ([]string, error) {
	if rc.ArtifactStore == nil {
		return []string{}, nil
	}

	return rc.ArtifactStore.List(rc.SessionID)
}

// RefreshSession reloads the snapshot from the SessionStore.
func (rc *RunContext) RefreshSession() error {
	if rc.SessionStore == nil {
		return fmt.Errorf("session %s: %w", rc.SessionID, ErrStoreNotConfigured)
	}

	s, err := rc.SessionStore.Get(rc.SessionID)
	if err != nil {
		return err
	}

	rc.Session = s

	return nil
}

// CommitStateDelta persists the staged delta directly and clears it.
func (rc *RunContext) CommitStateDelta() error {
	if len(rc.StateDelta) == 0 {
		return nil
	}

	if rc.SessionStore == nil {
		return fmt.Errorf("session %s: %w", rc.SessionID, ErrStoreNotConfigured)
	}

	if err := rc.SessionStore.ApplyDelta(rc.SessionID, rc.StateDelta); err != nil {
		return err
	}

	if rc.Session != nil {
		rc.Session.ApplyStateDelta(rc.StateDelta)
	}

	rc.StateDelta = map[string]any{}

	return nil
}

// GetSessionHistory returns the conversation history of the snapshot.
func (rc *RunContext) GetSessionHistory() []Event {
	if rc.Session == nil {
		return []Event{}
	}

	return rc.Session.GetConversationHistory()
}

// Clone returns a shallow copy with its own delta and artifact buffers.
func (rc *RunContext) Clone() *RunContext {
	c := *rc
	c.StateDelta = maps.Clone(rc.StateDelta)
	if c.StateDelta == nil {
		c.StateDelta = map[string]any{}
	}
	c.Artifacts = append([]string{}, rc.Artifacts...)
	return &c
}

// WithBranch clones the context and sets the branch label.
func (rc *RunContext) WithBranch(b string) *RunContext {
	c := rc.Clone()
	c.Branch = b
	return c
}

// WithAgent clones the context for a child agent.
func (rc *RunContext) WithAgent(info AgentInfo) *RunContext {
	c := rc.Clone()
	c.Agent = info
	return c
}

// WithContext clones the context replacing its cancellation scope.
func (rc *RunContext) WithContext(ctx context.Context) *RunContext {
	c := rc.Clone()
	c.Context = ctx
	return c
}

// EmitEvent merges the staged state and artifact deltas into ev and emits it.
func (rc *RunContext) EmitEvent(ev Event) error {
	if rc.Emit == nil {
		return fmt.Errorf("emit channel not configured")
	}

	if len(rc.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, rc.StateDelta)
	}

	if len(rc.Artifacts) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		for _, id := range rc.Artifacts {
			ev.Actions.ArtifactDelta[id]++
		}
	}

	if ev.InvocationID == "" {
		ev.InvocationID = rc.RunID
	}

	ev = ev.WithBranch(rc.Branch)

	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	if len(ev.Actions.StateDelta) > 0 && rc.Session != nil {
		rc.Session.ApplyStateDelta(ev.Actions.StateDelta)
	}

	rc.StateDelta = map[string]any{}
	rc.Artifacts = []string{}

	return nil
}
