package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/auditmesh/core"
)

// ParallelAgent runs its children concurrently. Each child gets a cloned
// run context labelled with branch "<parent branch>.<name>.<child>" so its
// staged state does not leak into siblings. The first failure cancels the
// remaining children.
type ParallelAgent struct {
	BaseAgent
	timeout time.Duration
}

var _ core.Agent = (*ParallelAgent)(nil)

// NewParallelAgent creates a parallel agent. timeout <= 0 disables the bound.
func NewParallelAgent(name, description string, timeout time.Duration, children ...core.Agent) *ParallelAgent {
	p := &ParallelAgent{timeout: timeout}
	p.Init(name, description, "parallel", p)
	_ = p.SetSubAgents(children...)
	return p
}

// Run implements core.Agent.
func (p *ParallelAgent) Run(runCtx *core.RunContext) error {
	ctx := runCtx.Context
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, child := range p.SubAgents() {
		branchCtx := runCtx.WithContext(gctx)
		branchCtx.Branch = buildBranchPath(runCtx.Branch, p.Name()+"."+child.Name())

		g.Go(func() error {
			if _, err := runChild(branchCtx, child); err != nil {
				return fmt.Errorf("parallel agent %s: child %s: %w", p.Name(), child.Name(), err)
			}
			return nil
		})
	}

	return g.Wait()
}
