package registry

import "sync"

// AgentAssignment names the logical node owning an agent in central
// topology, plus the portable-storage path if one is known. The logical
// owner is distinct from where the agent's LLM session runs.
type AgentAssignment struct {
	AgentID      string `json:"agentId"`
	NodeID       string `json:"nodeId"`
	PortablePath string `json:"portablePath,omitempty"`
}

// AssignmentStore maps agentId to its owning node. Reassignment takes
// effect on the next lookup; routing reads go through Get.
type AssignmentStore struct {
	mu          sync.RWMutex
	assignments map[string]AgentAssignment
}

func NewAssignmentStore() *AssignmentStore {
	return &AssignmentStore{assignments: make(map[string]AgentAssignment)}
}

// Assign records or replaces the full assignment.
func (s *AssignmentStore) Assign(a AgentAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.AgentID] = a
}

// Get returns the assignment, or false when the agent is unassigned.
func (s *AssignmentStore) Get(agentID string) (AgentAssignment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[agentID]
	return a, ok
}

// Reassign moves the agent to newNodeID, keeping PortablePath unchanged.
// Unknown agents get a fresh assignment with no portable path.
func (s *AssignmentStore) Reassign(agentID, newNodeID string) AgentAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[agentID]
	if !ok {
		a = AgentAssignment{AgentID: agentID}
	}
	a.NodeID = newNodeID
	s.assignments[agentID] = a
	return a
}

// List returns all assignments.
func (s *AssignmentStore) List() []AgentAssignment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out
}

// Remove drops an assignment.
func (s *AssignmentStore) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, agentID)
}
