// Package registry tracks reachable Flock nodes and, in central
// topology, the logical node assignment of each agent.
package registry

import (
	"sync"
	"time"
)

// NodeStatus is the liveness of a registered node.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// NodeEntry describes one reachable node and the agents it hosts.
type NodeEntry struct {
	NodeID      string     `json:"nodeId"`
	A2AEndpoint string     `json:"a2aEndpoint"`
	Status      NodeStatus `json:"status"`
	LastSeen    time.Time  `json:"lastSeen"`
	AgentIDs    []string   `json:"agentIds"`
}

// NodeRegistry is the process-wide index of remote node endpoints. An
// optional parent registry serves hierarchical deployments; lookups fall
// through to it when the local index misses.
type NodeRegistry struct {
	mu     sync.RWMutex
	nodes  map[string]*NodeEntry
	parent *NodeRegistry
}

func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]*NodeEntry)}
}

// SetParent installs the fallback registry.
func (r *NodeRegistry) SetParent(parent *NodeRegistry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = parent
}

// Register inserts or replaces a node entry, stamping LastSeen.
func (r *NodeRegistry) Register(e NodeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.LastSeen = time.Now().UTC()
	if e.Status == "" {
		e.Status = NodeOnline
	}
	clone := e
	clone.AgentIDs = append([]string(nil), e.AgentIDs...)
	r.nodes[e.NodeID] = &clone
}

// Get returns a copy of the entry, or false when unknown locally and in
// the parent.
func (r *NodeRegistry) Get(nodeID string) (NodeEntry, bool) {
	r.mu.RLock()
	e, ok := r.nodes[nodeID]
	parent := r.parent
	r.mu.RUnlock()
	if ok {
		return cloneEntry(e), true
	}
	if parent != nil {
		return parent.Get(nodeID)
	}
	return NodeEntry{}, false
}

// UpdateAgents replaces the hosted-agent set for a node.
func (r *NodeRegistry) UpdateAgents(nodeID string, agentIDs []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	e.AgentIDs = append([]string(nil), agentIDs...)
	e.LastSeen = time.Now().UTC()
	return true
}

// SetStatus flips a node's liveness.
func (r *NodeRegistry) SetStatus(nodeID string, status NodeStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	e.Status = status
	e.LastSeen = time.Now().UTC()
	return true
}

// FindNodeForAgent returns the first online node hosting the agent,
// falling through to the parent registry on a miss.
func (r *NodeRegistry) FindNodeForAgent(agentID string) (NodeEntry, bool) {
	r.mu.RLock()
	for _, e := range r.nodes {
		if e.Status != NodeOnline {
			continue
		}
		for _, id := range e.AgentIDs {
			if id == agentID {
				out := cloneEntry(e)
				r.mu.RUnlock()
				return out, true
			}
		}
	}
	parent := r.parent
	r.mu.RUnlock()
	if parent != nil {
		return parent.FindNodeForAgent(agentID)
	}
	return NodeEntry{}, false
}

// List returns copies of all local entries.
func (r *NodeRegistry) List() []NodeEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeEntry, 0, len(r.nodes))
	for _, e := range r.nodes {
		out = append(out, cloneEntry(e))
	}
	return out
}

// RemoveAgent drops agentID from a node's hosted set.
func (r *NodeRegistry) RemoveAgent(nodeID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	kept := e.AgentIDs[:0]
	for _, id := range e.AgentIDs {
		if id != agentID {
			kept = append(kept, id)
		}
	}
	e.AgentIDs = kept
}

// AddAgent appends agentID to a node's hosted set if absent.
func (r *NodeRegistry) AddAgent(nodeID, agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.nodes[nodeID]
	if !ok {
		return false
	}
	for _, id := range e.AgentIDs {
		if id == agentID {
			return true
		}
	}
	e.AgentIDs = append(e.AgentIDs, agentID)
	return true
}

func cloneEntry(e *NodeEntry) NodeEntry {
	out := *e
	out.AgentIDs = append([]string(nil), e.AgentIDs...)
	return out
}
