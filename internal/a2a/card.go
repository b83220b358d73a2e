package a2a

import "sync"

// Role names the privilege class of an agent.
type Role string

const (
	RoleWorker       Role = "worker"
	RoleSysadmin     Role = "sysadmin"
	RoleOrchestrator Role = "orchestrator"
	RoleSystem       Role = "system"
)

// SysadminAgentID is the distinguished id of the privileged agent.
const SysadminAgentID = "sysadmin"

// AgentCard is the public directory entry for one agent.
type AgentCard struct {
	AgentID      string            `json:"agentId"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Version      string            `json:"version,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	InputTypes   []string          `json:"inputTypes,omitempty"`
	OutputTypes  []string          `json:"outputTypes,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Flock is the node-local sidecar the directory endpoint exposes
	// alongside the standard card fields.
	Flock FlockInfo `json:"flock"`
}

// FlockInfo is the Flock metadata sidecar on an agent card.
type FlockInfo struct {
	NodeID    string `json:"nodeId"`
	Role      Role   `json:"role"`
	Archetype string `json:"archetype,omitempty"`
}

// CardRegistry holds the (card, executor) pair for each local agent.
// Writes happen at boot and from admin tools; reads dominate, so every
// read returns copies.
type CardRegistry struct {
	mu     sync.RWMutex
	agents map[string]*registration
}

type registration struct {
	card     AgentCard
	executor Executor
}

func NewCardRegistry() *CardRegistry {
	return &CardRegistry{agents: make(map[string]*registration)}
}

// Register installs or replaces an agent registration.
func (r *CardRegistry) Register(card AgentCard, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[card.AgentID] = &registration{card: card, executor: exec}
}

// Card returns a copy of the agent's card.
func (r *CardRegistry) Card(agentID string) (AgentCard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return AgentCard{}, false
	}
	return cloneCard(reg.card), true
}

// Executor returns the registered executor for the agent.
func (r *CardRegistry) Executor(agentID string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return reg.executor, true
}

// Has reports whether the agent is registered locally.
func (r *CardRegistry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok
}

// Cards returns copies of all local cards.
func (r *CardRegistry) Cards() []AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentCard, 0, len(r.agents))
	for _, reg := range r.agents {
		out = append(out, cloneCard(reg.card))
	}
	return out
}

// AgentIDs returns all registered agent ids.
func (r *CardRegistry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}

// Unregister removes an agent.
func (r *CardRegistry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

func cloneCard(c AgentCard) AgentCard {
	out := c
	out.Capabilities = append([]string(nil), c.Capabilities...)
	out.InputTypes = append([]string(nil), c.InputTypes...)
	out.OutputTypes = append([]string(nil), c.OutputTypes...)
	if c.Metadata != nil {
		out.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
