// Package routing decides, per message, whether delivery to a target
// agent is local dispatch or remote HTTP. Two resolvers cover the two
// topologies, plus a specialized resolver for the sysadmin role.
package routing

import (
	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/internal/registry"
)

// PeerResolver serves the all-nodes-equal topology.
//
// Resolution order: the local server hosts the agent; an online entry in
// the local node registry; the parent registry; otherwise fall back to
// local and let the server answer with an unknown-agent error.
type PeerResolver struct {
	local *a2a.CardRegistry
	nodes *registry.NodeRegistry
}

func NewPeerResolver(local *a2a.CardRegistry, nodes *registry.NodeRegistry) *PeerResolver {
	return &PeerResolver{local: local, nodes: nodes}
}

func (r *PeerResolver) Resolve(agentID string) a2a.Route {
	if r.local.Has(agentID) {
		return a2a.Route{Local: true}
	}
	if entry, ok := r.nodes.FindNodeForAgent(agentID); ok {
		return a2a.Route{Local: false, Endpoint: entry.A2AEndpoint, NodeID: entry.NodeID}
	}
	return a2a.Route{Local: true}
}

// CentralResolver serves the single co-located host: all worker traffic
// is local; sysadmin traffic goes through the sysadmin resolver when the
// calling agent is assigned to a remote node.
type CentralResolver struct {
	sysadmin *CentralSysadminResolver
}

func NewCentralResolver(sysadmin *CentralSysadminResolver) *CentralResolver {
	return &CentralResolver{sysadmin: sysadmin}
}

func (r *CentralResolver) Resolve(agentID string) a2a.Route {
	if agentID == a2a.SysadminAgentID && r.sysadmin != nil {
		return r.sysadmin.Resolve(agentID)
	}
	return a2a.Route{Local: true}
}

// CentralSysadminResolver routes sysadmin calls to the node the calling
// agent is assigned to. The caller is set per message through ForCaller;
// without a caller or assignment the local sysadmin serves the request.
type CentralSysadminResolver struct {
	assignments *registry.AssignmentStore
	nodes       *registry.NodeRegistry
	localNodeID string
	callerID    string
}

func NewCentralSysadminResolver(assignments *registry.AssignmentStore, nodes *registry.NodeRegistry, localNodeID string) *CentralSysadminResolver {
	return &CentralSysadminResolver{assignments: assignments, nodes: nodes, localNodeID: localNodeID}
}

// ForCaller returns a resolver view bound to one calling agent.
func (r *CentralSysadminResolver) ForCaller(callerID string) *CentralSysadminResolver {
	bound := *r
	bound.callerID = callerID
	return &bound
}

func (r *CentralSysadminResolver) Resolve(_ string) a2a.Route {
	if r.callerID == "" {
		return a2a.Route{Local: true}
	}
	assignment, ok := r.assignments.Get(r.callerID)
	if !ok || assignment.NodeID == r.localNodeID {
		return a2a.Route{Local: true}
	}
	node, ok := r.nodes.Get(assignment.NodeID)
	if !ok || node.Status != registry.NodeOnline {
		return a2a.Route{Local: true}
	}
	return a2a.Route{Local: false, Endpoint: node.A2AEndpoint, NodeID: node.NodeID}
}
