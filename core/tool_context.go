package core

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/auditmesh/logging"
)

// ToolContext is the surface a tool sees while it executes. It records
// EventActions that the flow attaches to the function response event.
type ToolContext struct {
	runCtx         *RunContext
	functionCallID string
	eventActions   EventActions

	*loggerAdapter
}

// NewToolContext binds a tool invocation to its run.
func NewToolContext(runCtx *RunContext, functionCallID string) *ToolContext {
	return &ToolContext{
		runCtx:         runCtx,
		functionCallID: functionCallID,
		loggerAdapter:  newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the cancellation context of the invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

func (tc *ToolContext) SessionID() string      { return tc.runCtx.SessionID }
func (tc *ToolContext) RunID() string          { return tc.runCtx.RunID }
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }
func (tc *ToolContext) AgentName() string      { return tc.runCtx.Agent.Name }

// Logger returns the run logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// GetState reads run state.
func (tc *ToolContext) GetState(k string) (any, bool) {
	return tc.runCtx.GetState(k)
}

// SetState records a state mutation on the tool's actions.
func (tc *ToolContext) SetState(k string, v any) {
	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}

	tc.eventActions.StateDelta[k] = v
}

// Actions returns the accumulated actions.
func (tc *ToolContext) Actions() *EventActions { return &tc.eventActions }

// Escalate asks the enclosing workflow to stop.
func (tc *ToolContext) Escalate() {
	tc.eventActions.Escalate = Ptr(true)
	tc.LogInfo("tool.escalate", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
}

// SaveArtifact persists data and records its size in the artifact delta.
func (tc *ToolContext) SaveArtifact(id string, data []byte) error {
	if tc.runCtx.ArtifactStore == nil {
		return fmt.Errorf("artifact %s: %w", id, ErrStoreNotConfigured)
	}

	if err := tc.runCtx.ArtifactStore.Save(tc.SessionID(), id, data); err != nil {
		return err
	}

	if tc.eventActions.ArtifactDelta == nil {
		tc.eventActions.ArtifactDelta = map[string]int{}
	}

	tc.eventActions.ArtifactDelta[id] = len(data)

	return nil
}

// LoadArtifact loads a persisted artifact.
func (tc *ToolContext) LoadArtifact(id string) ([]byte, error) {
	return tc.runCtx.GetArtifact(id)
}

// ApplyActions merges the accumulated actions into ev.
func (tc *ToolContext) ApplyActions(ev *Event) {
	if len(tc.eventActions.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		maps.Copy(ev.Actions.StateDelta, tc.eventActions.StateDelta)
	}

	if len(tc.eventActions.ArtifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		maps.Copy(ev.Actions.ArtifactDelta, tc.eventActions.ArtifactDelta)
	}

	if tc.eventActions.Escalate != nil {
		ev.Actions.Escalate = tc.eventActions.Escalate
	}
}
