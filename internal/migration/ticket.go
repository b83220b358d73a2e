// Package migration implements the live migration engine: the per-ticket
// phase FSM, snapshot and verification, rehydration, rollback, the
// frozen guard, transports, and the end-to-end orchestrator.
package migration

import (
	"time"
)

// Phase is one state of the migration ticket FSM.
type Phase string

const (
	PhaseRequested    Phase = "REQUESTED"
	PhaseAuthorized   Phase = "AUTHORIZED"
	PhaseFreezing     Phase = "FREEZING"
	PhaseFrozen       Phase = "FROZEN"
	PhaseSnapshotting Phase = "SNAPSHOTTING"
	PhaseTransferring Phase = "TRANSFERRING"
	PhaseVerifying    Phase = "VERIFYING"
	PhaseRehydrating  Phase = "REHYDRATING"
	PhaseFinalizing   Phase = "FINALIZING"
	PhaseCompleted    Phase = "COMPLETED"
	PhaseFailed       Phase = "FAILED"
	PhaseRollingBack  Phase = "ROLLING_BACK"
	PhaseAborted      Phase = "ABORTED"
)

// canonicalOrder is the happy-path phase sequence.
var canonicalOrder = []Phase{
	PhaseRequested, PhaseAuthorized, PhaseFreezing, PhaseFrozen,
	PhaseSnapshotting, PhaseTransferring, PhaseVerifying,
	PhaseRehydrating, PhaseFinalizing, PhaseCompleted,
}

// phaseTransitions is the complete FSM edge set. Every phase update goes
// through this table; anything else is an invalid transition.
var phaseTransitions = map[Phase][]Phase{
	PhaseRequested:    {PhaseAuthorized, PhaseFailed, PhaseAborted},
	PhaseAuthorized:   {PhaseFreezing, PhaseFailed, PhaseAborted},
	PhaseFreezing:     {PhaseFrozen, PhaseFailed},
	PhaseFrozen:       {PhaseSnapshotting, PhaseFailed, PhaseRollingBack},
	PhaseSnapshotting: {PhaseTransferring, PhaseFailed, PhaseRollingBack},
	PhaseTransferring: {PhaseVerifying, PhaseFailed, PhaseRollingBack},
	PhaseVerifying:    {PhaseRehydrating, PhaseFailed, PhaseRollingBack},
	PhaseRehydrating:  {PhaseFinalizing, PhaseFailed, PhaseRollingBack},
	PhaseFinalizing:   {PhaseCompleted, PhaseFailed, PhaseRollingBack},
	PhaseRollingBack:  {PhaseAborted, PhaseFailed},
	PhaseCompleted:    {},
	PhaseAborted:      {},
	PhaseFailed:       {},
}

// CanTransition reports whether the FSM allows from -> to.
func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextPhase returns the canonical successor of a non-terminal phase.
func NextPhase(p Phase) (Phase, bool) {
	for i, phase := range canonicalOrder {
		if phase == p && i+1 < len(canonicalOrder) {
			return canonicalOrder[i+1], true
		}
	}
	return "", false
}

// IsTerminal reports whether the phase ends the ticket's life.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseFailed
}

// frozenPhases are the phases during which the frozen guard rejects
// inbound messages to the agent.
var frozenPhases = map[Phase]bool{
	PhaseFreezing:     true,
	PhaseFrozen:       true,
	PhaseSnapshotting: true,
	PhaseTransferring: true,
	PhaseVerifying:    true,
	PhaseRehydrating:  true,
}

// PhaseTimeouts bounds wall-clock time per non-terminal phase.
var PhaseTimeouts = map[Phase]time.Duration{
	PhaseRequested:    60 * time.Second,
	PhaseAuthorized:   2 * time.Minute,
	PhaseFreezing:     1 * time.Minute,
	PhaseFrozen:       5 * time.Minute,
	PhaseSnapshotting: 10 * time.Minute,
	PhaseTransferring: 10 * time.Minute,
	PhaseVerifying:    2 * time.Minute,
	PhaseRehydrating:  10 * time.Minute,
	PhaseFinalizing:   2 * time.Minute,
}

// Owner names which side is authoritative for the agent's state.
type Owner string

const (
	OwnerSource Owner = "source"
	OwnerTarget Owner = "target"
)

// Reason classifies why a migration was initiated.
type Reason string

const (
	ReasonAgentRequest          Reason = "agent_request"
	ReasonOrchestratorRebalance Reason = "orchestrator_rebalance"
	ReasonNodeRetiring          Reason = "node_retiring"
	ReasonLeaseMigration        Reason = "lease_migration"
	ReasonSecurityRelocation    Reason = "security_relocation"
	ReasonResourceNeed          Reason = "resource_need"
)

// Endpoint names one side of a migration.
type Endpoint struct {
	NodeID   string `json:"nodeId"`
	HomeID   string `json:"homeId"`
	Endpoint string `json:"endpoint"`
}

// Ticket is the record of one in-flight migration.
type Ticket struct {
	MigrationID     string              `json:"migrationId"`
	AgentID         string              `json:"agentId"`
	Source          Endpoint            `json:"source"`
	Target          Endpoint            `json:"target"`
	Phase           Phase               `json:"phase"`
	OwnershipHolder Owner               `json:"ownershipHolder"`
	Reason          Reason              `json:"reason"`
	ReservationID   string              `json:"reservationId,omitempty"`
	Timestamps      map[Phase]time.Time `json:"timestamps"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
	Error           string              `json:"error,omitempty"`
}

func cloneTicket(t *Ticket) *Ticket {
	out := *t
	out.Timestamps = make(map[Phase]time.Time, len(t.Timestamps))
	for k, v := range t.Timestamps {
		out.Timestamps[k] = v
	}
	return &out
}
