package testutil

import (
	"github.com/hupe1980/auditmesh/core"
)

// FuncAgent is a leaf core.Agent whose Run delegates to RunFunc.
type FuncAgent struct {
	AgentName string
	RunFunc   func(runCtx *core.RunContext) error
}

var _ core.Agent = (*FuncAgent)(nil)

// NewReplyAgent returns an agent that emits one assistant message.
func NewReplyAgent(name, reply string) *FuncAgent {
	return &FuncAgent{
		AgentName: name,
		RunFunc: func(runCtx *core.RunContext) error {
			return runCtx.EmitEvent(core.NewMessageEvent(runCtx.RunID, name, reply))
		},
	}
}

func (a *FuncAgent) Name() string { return a.AgentName }
func (a *FuncAgent) Description() string { return "test agent " + a.AgentName }
func (a *FuncAgent) Start(*core.RunContext) error { return nil }
func (a *FuncAgent) Stop(*core.RunContext) error { return nil }
func (a *FuncAgent) SetSubAgents(...core.Agent) error { return nil }
func (a *FuncAgent) SubAgents() []core.Agent { return nil }
func (a *FuncAgent) Parent() core.Agent { return nil }

func (a *FuncAgent) FindAgent(name string) core.Agent {
	if name == a.AgentName {
		return a
	}
	return nil
}

func (a *FuncAgent) Run(runCtx *core.RunContext) error {
	if a.RunFunc == nil {
		return nil
	}
	return a.RunFunc(runCtx)
}
