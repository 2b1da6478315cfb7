package flow

import (
	"fmt"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/internal/util"
	"github.com/hupe1980/auditmesh/model"
)

// InstructionsProcessor renders the agent instruction against run state.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates an InstructionsProcessor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions. Template actions such as
// {{.critic_result}} read the session state overlaid with staged changes.
func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	instructions, err := agent.ResolveInstructions(runCtx)
	if err != nil {
		return fmt.Errorf("resolve instruction: %w", err)
	}

	rendered, err := util.RenderTemplate(instructions, runCtx.State())
	if err != nil {
		return fmt.Errorf("render instruction: %w", err)
	}

	runCtx.LogDebug("agent.instruction.resolved", "agent", agent.GetName(), "length", len(rendered))

	req.Instructions = rendered

	return nil
}

// ContentsProcessor adds prior turns and the current user input.
type ContentsProcessor struct{}

// NewContentsProcessor creates a ContentsProcessor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest appends the history of earlier invocations, capped at
// MaxHistoryMessages, followed by the user content of this run. A capped
// history never starts with tool responses whose call was cut off.
func (p *ContentsProcessor) ProcessRequest(runCtx *core.RunContext, req *model.Request, agent FlowAgent) error {
	var history []core.Content
	for _, ev := range runCtx.GetSessionHistory() {
		if ev.InvocationID == runCtx.RunID {
			continue
		}
		if ev.Content != nil && len(ev.Content.Parts) > 0 {
			history = append(history, *ev.Content)
		}
	}

	if limit := agent.MaxHistoryMessages(); limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
		for len(history) > 0 && hasFunctionResponse(history[0]) {
			history = history[1:]
		}
	}

	req.Contents = append(req.Contents, history...)

	if len(runCtx.UserContent.Parts) > 0 {
		user := runCtx.UserContent
		if user.Role == "" {
			user.Role = core.RoleUser
		}
		req.Contents = append(req.Contents, user)
	}

	return nil
}

func hasFunctionResponse(c core.Content) bool {
	for _, part := range c.Parts {
		if _, ok := part.(core.FunctionResponsePart); ok {
			return true
		}
	}
	return false
}

// OutputKeyProcessor stages the final answer under the agent's output key
// so the state change travels with the final event.
type OutputKeyProcessor struct{}

// NewOutputKeyProcessor creates an OutputKeyProcessor.
func NewOutputKeyProcessor() *OutputKeyProcessor { return &OutputKeyProcessor{} }

// Name returns the processor's identifier.
func (p *OutputKeyProcessor) Name() string { return "output_key" }

// ProcessResponse ignores responses that request tools.
func (p *OutputKeyProcessor) ProcessResponse(runCtx *core.RunContext, resp *model.Response, agent FlowAgent) error {
	key := agent.GetOutputKey()
	if key == "" || resp.Partial {
		return nil
	}

	for _, part := range resp.Content.Parts {
		if _, ok := part.(core.FunctionCallPart); ok {
			return nil
		}
	}

	runCtx.SetState(key, resp.Content.Text())

	return nil
}
