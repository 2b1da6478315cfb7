package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/tool"
)

// FunctionExecutor runs a batch of tool calls. Implementations emit exactly
// one function response event per call, never panic and respect
// cancellation of runCtx. Tool failures are reported inside the response,
// not as a returned error.
type FunctionExecutor interface {
	Execute(runCtx *core.RunContext, agentName string, tools map[string]tool.Tool, fnCalls []core.FunctionCall, emit func(core.Event) error) error
}

// FunctionExecutorConfig configures the parallel executor.
type FunctionExecutorConfig struct {
	// MaxParallel bounds concurrent calls. Values < 1 run all calls at once.
	MaxParallel int
	// PreserveOrder buffers results and emits them in call order.
	PreserveOrder bool
	// Timeout bounds each call. Zero disables the bound.
	Timeout time.Duration
}

type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs the default executor.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return &parallelFunctionExecutor{cfg: cfg}
}

func (e *parallelFunctionExecutor) Execute(
	runCtx *core.RunContext,
	agentName string,
	tools map[string]tool.Tool,
	fnCalls []core.FunctionCall,
	emit func(core.Event) error,
) error {
	n := len(fnCalls)
	if n == 0 {
		return nil
	}

	limit := e.cfg.MaxParallel
	if limit < 1 || limit > n {
		limit = n
	}

	var (
		mu      sync.Mutex
		results = make([]core.Event, n)
		g       errgroup.Group
	)

	g.SetLimit(limit)

	batchStart := time.Now()

	for i, fc := range fnCalls {
		if runCtx.Err() != nil {
			break
		}

		mu.Lock()
		callCtx := runCtx.Clone()
		mu.Unlock()

		g.Go(func() error {
			ev := e.executeOne(callCtx, agentName, tools, fc)

			mu.Lock()
			defer mu.Unlock()

			if e.cfg.PreserveOrder {
				results[i] = ev
				return nil
			}

			return emit(ev)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if e.cfg.PreserveOrder {
		for _, ev := range results {
			if ev.ID == "" {
				continue
			}
			if err := emit(ev); err != nil {
				return err
			}
		}
	}

	runCtx.LogDebug(
		"agent.functions.batch.complete",
		"agent", agentName,
		"count", n,
		"parallelism", limit,
		"preserve_order", e.cfg.PreserveOrder,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	if err := runCtx.Err(); err != nil {
		return err
	}

	return nil
}

// executeOne runs fc on runCtx, a private clone owned by this call.
func (e *parallelFunctionExecutor) executeOne(
	runCtx *core.RunContext,
	agentName string,
	tools map[string]tool.Tool,
	fc core.FunctionCall,
) core.Event {
	if e.cfg.Timeout > 0 {
		ctx, cancel := context.WithTimeout(runCtx.Context, e.cfg.Timeout)
		defer cancel()
		runCtx.Context = ctx
	}

	toolCtx := core.NewToolContext(runCtx, fc.ID)

	start := time.Now()

	var (
		result any
		err    error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				runCtx.LogError("agent.function.panic", "agent", agentName, "function", fc.Name, "recover", r)
			}
		}()
		result, err = executeTool(tools, toolCtx, fc.Name, fc.Arguments)
	}()

	runCtx.LogInfo(
		"agent.function.executed",
		"agent", agentName,
		"function", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	resp := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: result}
	if err != nil {
		resp.Error = err.Error()
	}

	ev := core.NewFunctionResponseEvent(runCtx.RunID, agentName, resp)
	toolCtx.ApplyActions(&ev)

	return ev
}

func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }

func executeTool(tools map[string]tool.Tool, toolCtx *core.ToolContext, name, args string) (any, error) {
	impl, ok := tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}

	argMap := map[string]any{}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, fmt.Errorf("unmarshal args: %w", err)
		}
	}

	return impl.Call(toolCtx, argMap)
}
