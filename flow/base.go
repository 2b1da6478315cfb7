package flow

import (
	"fmt"
	"sort"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/model"
	"github.com/hupe1980/auditmesh/tool"
)

// DefaultMaxIterations bounds the model/tool round trips of one Execute.
const DefaultMaxIterations = 10

// BaseFlow is the single agent flow: request, model call, optional tool
// round trip, repeated until a final response.
type BaseFlow struct {
	agent              FlowAgent
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
	executor           FunctionExecutor
	maxIterations      int
}

// NewBaseFlow creates a flow without processors.
func NewBaseFlow(agent FlowAgent) *BaseFlow {
	return &BaseFlow{
		agent:         agent,
		executor:      NewParallelFunctionExecutor(FunctionExecutorConfig{PreserveOrder: true}),
		maxIterations: DefaultMaxIterations,
	}
}

// NewDefaultFlow creates a flow with the instruction, contents and output
// key processors.
func NewDefaultFlow(agent FlowAgent) *BaseFlow {
	f := NewBaseFlow(agent)
	f.AddRequestProcessor(NewInstructionsProcessor())
	f.AddRequestProcessor(NewContentsProcessor())
	f.AddResponseProcessor(NewOutputKeyProcessor())
	return f
}

// AddRequestProcessor appends a request processor. Registration order is
// execution order.
func (f *BaseFlow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// AddResponseProcessor appends a response processor.
func (f *BaseFlow) AddResponseProcessor(processor ResponseProcessor) {
	f.responseProcessors = append(f.responseProcessors, processor)
}

// SetFunctionExecutor replaces the tool executor.
func (f *BaseFlow) SetFunctionExecutor(executor FunctionExecutor) { f.executor = executor }

// SetMaxIterations sets the round trip bound. n < 1 removes it.
func (f *BaseFlow) SetMaxIterations(n int) { f.maxIterations = n }

// Execute runs model turns until one ends without tool calls.
func (f *BaseFlow) Execute(runCtx *core.RunContext) error {
	var turn []core.Content

	for i := 0; f.maxIterations < 1 || i < f.maxIterations; i++ {
		done, err := f.runOnce(runCtx, &turn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	return fmt.Errorf("%w (%d)", ErrMaxIterations, f.maxIterations)
}

// runOnce performs one model call and, if requested, one batch of tool
// calls. It reports whether the final response was emitted.
func (f *BaseFlow) runOnce(runCtx *core.RunContext, turn *[]core.Content) (bool, error) {
	name := f.agent.GetName()

	req := &model.Request{
		Stream:  f.agent.IsStreamingEnabled(),
		Options: f.agent.GetGenerationOptions(),
	}

	for _, processor := range f.requestProcessors {
		if err := processor.ProcessRequest(runCtx, req, f.agent); err != nil {
			return false, fmt.Errorf("request processor %s: %w", processor.Name(), err)
		}
	}

	req.Contents = append(req.Contents, *turn...)

	var tools map[string]tool.Tool
	if f.agent.IsFunctionCallingEnabled() {
		var err error
		if tools, err = f.agent.GetTools(runCtx.Context); err != nil {
			return false, fmt.Errorf("load tools: %w", err)
		}
		req.Tools = toolDefinitions(tools)
	}

	if runCtx.Limiter != nil {
		if err := runCtx.Limiter.Increment(); err != nil {
			return false, err
		}
	}

	llm := f.agent.GetLLM()

	runCtx.LogDebug("agent.model.request", "agent", name, "model", llm.Info().Name, "contents", len(req.Contents), "tools", len(req.Tools))

	respCh, errCh := llm.Generate(runCtx.Context, *req)

	var (
		final    model.Response
		gotFinal bool
	)

	for respCh != nil || errCh != nil {
		select {
		case <-runCtx.Done():
			return false, runCtx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			if resp.Partial {
				ev := core.NewEvent(runCtx.RunID, name)
				content := resp.Content
				ev.Content = &content
				ev.Partial = core.Ptr(true)
				if err := runCtx.EmitEvent(ev); err != nil {
					return false, err
				}
				continue
			}

			final, gotFinal = resp, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return false, &ModelError{Model: llm.Info().Name, Err: err}
			}
		}
	}

	if !gotFinal {
		return false, &ModelError{Model: llm.Info().Name, Err: model.ErrNoResponse}
	}

	for _, processor := range f.responseProcessors {
		if err := processor.ProcessResponse(runCtx, &final, f.agent); err != nil {
			return false, fmt.Errorf("response processor %s: %w", processor.Name(), err)
		}
	}

	if final.Content.Role == "" {
		final.Content.Role = core.RoleAssistant
	}

	ev := core.NewEvent(runCtx.RunID, name)
	content := final.Content
	ev.Content = &content

	fnCalls := ev.GetFunctionCalls()
	if len(fnCalls) == 0 {
		ev.TurnComplete = core.Ptr(true)
	}

	if err := runCtx.EmitEvent(ev); err != nil {
		return false, err
	}

	if len(fnCalls) == 0 {
		return true, nil
	}

	*turn = append(*turn, content)

	err := f.executor.Execute(runCtx, name, tools, fnCalls, func(respEv core.Event) error {
		if respEv.Content != nil {
			*turn = append(*turn, *respEv.Content)
		}
		return runCtx.EmitEvent(respEv)
	})
	if err != nil {
		return false, err
	}

	return false, nil
}

func toolDefinitions(tools map[string]tool.Tool) []model.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := tools[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	return defs
}
