// Package flow implements the model loop driven by model agents.
//
// A flow builds a request from the agent instruction and the conversation,
// calls the model, forwards streamed fragments, executes requested tools
// and feeds their results back until the model produces a final answer.
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/model"
	"github.com/hupe1980/auditmesh/tool"
)

// ErrMaxIterations is returned when the tool loop does not converge.
var ErrMaxIterations = errors.New("flow: maximum iterations reached")

// ModelError wraps a failure reported by the model.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string { return fmt.Sprintf("model %s: %v", e.Model, e.Err) }
func (e *ModelError) Unwrap() error { return e.Err }

// Flow runs one agent turn and reports progress by emitting events through
// the RunContext.
type Flow interface {
	Execute(runCtx *core.RunContext) error
}

// FlowAgent is the view of an agent a flow needs.
type FlowAgent interface {
	GetName() string
	GetLLM() model.Model
	ResolveInstructions(runCtx *core.RunContext) (string, error)
	// GetTools returns the tools by name, including those of toolsets.
	GetTools(ctx context.Context) (map[string]tool.Tool, error)
	GetGenerationOptions() model.GenerationOptions
	IsFunctionCallingEnabled() bool
	IsStreamingEnabled() bool
	GetOutputKey() string
	MaxHistoryMessages() int
}

// RequestProcessor shapes the request before it is sent to the model.
type RequestProcessor interface {
	Name() string
	ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error
}

// ResponseProcessor sees every final model response before it is emitted.
type ResponseProcessor interface {
	Name() string
	ProcessResponse(runCtx *core.RunContext, resp *model.Response, agent FlowAgent) error
}
