package agent

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/auditmesh/core"
)

// buildBranchPath joins a parent branch and a child segment with ".".
func buildBranchPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}

// agentInfo returns the identity of a, falling back to a bare name.
func agentInfo(a core.Agent) core.AgentInfo {
	if ia, ok := a.(interface{ Info() core.AgentInfo }); ok {
		return ia.Info()
	}
	return core.AgentInfo{Name: a.Name(), Type: "custom"}
}

// runChild runs child on a context derived from runCtx and reports whether
// any of its events asked to escalate. Events are forwarded unchanged.
func runChild(runCtx *core.RunContext, child core.Agent) (bool, error) {
	childCtx := runCtx.WithAgent(agentInfo(child))

	tap := make(chan core.Event)
	childCtx.Emit = tap

	var (
		escalated atomic.Bool
		wg        sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range tap {
			if ev.Actions.Escalate != nil && *ev.Actions.Escalate {
				escalated.Store(true)
			}
			select {
			case runCtx.Emit <- ev:
			case <-runCtx.Done():
			}
		}
	}()

	err := func() error {
		if err := child.Start(childCtx); err != nil {
			return err
		}
		defer func() { _ = child.Stop(childCtx) }()
		return child.Run(childCtx)
	}()

	close(tap)
	wg.Wait()

	return escalated.Load(), err
}
