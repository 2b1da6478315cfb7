package agent

import (
	"sync"

	"github.com/hupe1980/auditmesh/core"
)

// BaseAgent bundles identity, lifecycle bookkeeping and the parent/child
// tree. Embed it in concrete agents and call Init from the constructor.
// Exported methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	kind        string

	mu        sync.Mutex
	active    int
	self      core.Agent
	parent    core.Agent
	subAgents []core.Agent
}

// Init sets identity and the outer agent used for parent links. Call it
// once from the constructor of the embedding agent.
func (b *BaseAgent) Init(name, description, kind string, self core.Agent) {
	b.name = name
	b.description = description
	b.kind = kind
	b.self = self
}

// Name returns the agent name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns what the agent does.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Info returns the identity recorded on run contexts.
func (b *BaseAgent) Info() core.AgentInfo { return core.AgentInfo{Name: b.name, Type: b.kind} }

// Start records an active run. Several runs of one agent may overlap when
// it is served over A2A.
func (b *BaseAgent) Start(runCtx *core.RunContext) error {
	b.mu.Lock()
	b.active++
	active := b.active
	b.mu.Unlock()

	runCtx.LogDebug("agent.start", "agent", b.name, "active", active)

	return nil
}

// Stop records the end of a run.
func (b *BaseAgent) Stop(runCtx *core.RunContext) error {
	b.mu.Lock()
	if b.active > 0 {
		b.active--
	}
	active := b.active
	b.mu.Unlock()

	runCtx.LogDebug("agent.stop", "agent", b.name, "active", active)

	return nil
}

// Active returns the number of runs in progress.
func (b *BaseAgent) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SetSubAgents replaces the children and makes this agent their parent.
// Previous children are detached.
func (b *BaseAgent) SetSubAgents(children ...core.Agent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, child := range b.subAgents {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(nil)
		}
	}

	b.subAgents = make([]core.Agent, 0, len(children))
	for _, child := range children {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(b.self)
		}
		b.subAgents = append(b.subAgents, child)
	}

	return nil
}

func (b *BaseAgent) setParent(p core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

// Parent returns the parent agent or nil for a root.
func (b *BaseAgent) Parent() core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

// SubAgents returns a copy of the children.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]core.Agent, len(b.subAgents))
	copy(result, b.subAgents)
	return result
}

// FindAgent searches the subtree rooted at this agent, depth first.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	if b.name == name {
		return b.self
	}

	for _, child := range b.SubAgents() {
		if found := child.FindAgent(name); found != nil {
			return found
		}
	}

	return nil
}
