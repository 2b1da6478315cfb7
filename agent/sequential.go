package agent

import (
	"fmt"

	"github.com/hupe1980/auditmesh/core"
)

// SequentialAgent runs its children one after another on the same session.
// State stored by a child (for example through an output key) is visible
// to the children after it. The first failing child stops the sequence;
// a child that escalates ends it early without error.
type SequentialAgent struct {
	BaseAgent
}

var _ core.Agent = (*SequentialAgent)(nil)

// NewSequentialAgent creates a sequential agent over children.
func NewSequentialAgent(name, description string, children ...core.Agent) *SequentialAgent {
	s := &SequentialAgent{}
	s.Init(name, description, "sequential", s)
	_ = s.SetSubAgents(children...)
	return s
}

// Run implements core.Agent.
func (s *SequentialAgent) Run(runCtx *core.RunContext) error {
	for i, child := range s.SubAgents() {
		if err := runCtx.Err(); err != nil {
			return err
		}

		runCtx.LogDebug("agent.sequential.step", "agent", s.Name(), "step", i, "child", child.Name())

		escalated, err := runChild(runCtx, child)
		if err != nil {
			return fmt.Errorf("sequential agent %s: child %s: %w", s.Name(), child.Name(), err)
		}

		if escalated {
			runCtx.LogInfo("agent.sequential.escalated", "agent", s.Name(), "child", child.Name())
			return nil
		}
	}

	return nil
}
