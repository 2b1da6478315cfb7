package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/flow"
	"github.com/hupe1980/auditmesh/model"
	"github.com/hupe1980/auditmesh/tool"
)

// ModelAgentOptions configures a ModelAgent.
type ModelAgentOptions struct {
	Description           string
	Instruction           Instruction
	EnableStreaming       bool
	EnableFunctionCalling bool
	ToolTimeout           time.Duration
	MaxParallelTools      int
	MaxIterations         int
	// OutputKey names the state key the final answer is stored under.
	OutputKey          string
	MaxHistoryMessages int
	GenerationOptions  model.GenerationOptions
	Tools              []tool.Tool
	Toolsets           []tool.Toolset
}

// ModelAgent answers with a language model, optionally calling tools.
//
// The agent is a thin configuration holder: each Run builds a
// flow.BaseFlow with the instruction, contents and output key processors
// and executes it on the run context.
type ModelAgent struct {
	BaseAgent

	llm                   model.Model
	instruction           Instruction
	tools                 map[string]tool.Tool
	toolsets              []tool.Toolset
	enableFunctionCalling bool
	enableStreaming       bool
	toolTimeout           time.Duration
	maxParallelTools      int
	maxIterations         int
	outputKey             string
	maxHistoryMessages    int
	generationOptions     model.GenerationOptions
}

var _ core.Agent = (*ModelAgent)(nil)

// NewModelAgent creates a model agent. Defaults: streaming and function
// calling enabled, 15s tool timeout, 20 history messages, 10 iterations.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Description:           fmt.Sprintf("Agent %s", name),
		Instruction:           NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		EnableStreaming:       true,
		EnableFunctionCalling: true,
		ToolTimeout:           15 * time.Second,
		MaxIterations:         flow.DefaultMaxIterations,
		MaxHistoryMessages:    20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		llm:                   llm,
		instruction:           opts.Instruction,
		tools:                 make(map[string]tool.Tool, len(opts.Tools)),
		toolsets:              opts.Toolsets,
		enableStreaming:       opts.EnableStreaming,
		enableFunctionCalling: opts.EnableFunctionCalling,
		toolTimeout:           opts.ToolTimeout,
		maxParallelTools:      opts.MaxParallelTools,
		maxIterations:         opts.MaxIterations,
		outputKey:             opts.OutputKey,
		maxHistoryMessages:    opts.MaxHistoryMessages,
		generationOptions:     opts.GenerationOptions,
	}
	a.Init(name, opts.Description, "model", a)

	for _, t := range opts.Tools {
		a.tools[t.Name()] = t
	}

	return a
}

// RegisterTool adds a tool. Not safe to call while the agent runs.
func (a *ModelAgent) RegisterTool(t tool.Tool) { a.tools[t.Name()] = t }

// RegisterToolset adds a toolset. Not safe to call while the agent runs.
func (a *ModelAgent) RegisterToolset(ts tool.Toolset) { a.toolsets = append(a.toolsets, ts) }

// HasTool reports whether a static tool is registered under name.
func (a *ModelAgent) HasTool(name string) bool {
	_, ok := a.tools[name]
	return ok
}

// Close releases the toolsets.
func (a *ModelAgent) Close() error {
	var errs []error
	for _, ts := range a.toolsets {
		if err := ts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("toolset %s: %w", ts.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (a *ModelAgent) GetName() string     { return a.Name() }
func (a *ModelAgent) GetLLM() model.Model { return a.llm }

// GetTools returns the static tools merged with the tools of every
// toolset. Static tools win on name clashes.
func (a *ModelAgent) GetTools(ctx context.Context) (map[string]tool.Tool, error) {
	tools := make(map[string]tool.Tool, len(a.tools))

	for _, ts := range a.toolsets {
		list, err := ts.Tools(ctx)
		if err != nil {
			return nil, fmt.Errorf("toolset %s: %w", ts.Name(), err)
		}
		for _, t := range list {
			tools[t.Name()] = t
		}
	}

	maps.Copy(tools, a.tools)

	return tools, nil
}

func (a *ModelAgent) GetGenerationOptions() model.GenerationOptions { return a.generationOptions }
func (a *ModelAgent) IsFunctionCallingEnabled() bool {
	return a.enableFunctionCalling && (len(a.tools) > 0 || len(a.toolsets) > 0)
}
func (a *ModelAgent) IsStreamingEnabled() bool { return a.enableStreaming }
func (a *ModelAgent) GetOutputKey() string     { return a.outputKey }
func (a *ModelAgent) MaxHistoryMessages() int  { return a.maxHistoryMessages }

// ResolveInstructions returns the raw instruction; the flow renders it.
func (a *ModelAgent) ResolveInstructions(runCtx *core.RunContext) (string, error) {
	return a.instruction.Resolve(runCtx)
}

// Run executes the model loop. On failure an error event is emitted and
// the error is returned.
func (a *ModelAgent) Run(runCtx *core.RunContext) error {
	runCtx.LogDebug("agent.run.start", "agent", a.Name(), "run", runCtx.RunID)

	f := flow.NewDefaultFlow(a)
	f.SetMaxIterations(a.maxIterations)
	f.SetFunctionExecutor(flow.NewParallelFunctionExecutor(flow.FunctionExecutorConfig{
		MaxParallel:   a.maxParallelTools,
		PreserveOrder: true,
		Timeout:       a.toolTimeout,
	}))

	if err := f.Execute(runCtx); err != nil {
		if errors.Is(err, context.Canceled) {
			runCtx.LogWarn("agent.run.cancelled", "agent", a.Name())
			return err
		}

		code := core.ErrorCodeAgent
		var modelErr *flow.ModelError
		if errors.As(err, &modelErr) || errors.Is(err, core.ErrModelLimit) {
			code = core.ErrorCodeModel
		}

		runCtx.LogError("agent.run.error", "agent", a.Name(), "error", err.Error())

		if emitErr := runCtx.EmitEvent(core.NewErrorEvent(runCtx.RunID, a.Name(), code, err)); emitErr != nil {
			runCtx.LogWarn("agent.run.error_event_dropped", "agent", a.Name(), "error", emitErr.Error())
		}

		return fmt.Errorf("agent %s: %w", a.Name(), err)
	}

	runCtx.LogDebug("agent.run.complete", "agent", a.Name())

	return nil
}
