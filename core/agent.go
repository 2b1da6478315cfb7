package core

// Agent is the unit of work driven by the runner.
//
// Run receives a RunContext and reports results exclusively by emitting
// events through it. Implementations must honor cancellation of the
// RunContext and must not retain it after Run returns.
type Agent interface {
	Name() string
	Description() string
	Start(runCtx *RunContext) error
	Stop(runCtx *RunContext) error
	Run(runCtx *RunContext) error
	SetSubAgents(children ...Agent) error
	SubAgents() []Agent
	Parent() Agent
	FindAgent(name string) Agent
}

// AgentInfo identifies the agent an event or context belongs to.
// Type is a coarse label such as "model", "sequential", "a2a".
type AgentInfo struct{ Name, Type string }
