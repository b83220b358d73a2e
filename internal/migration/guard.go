package migration

import (
	"fmt"
	"time"

	"github.com/flocklabs/flock/internal/a2a"
)

// downtimeEstimates map each frozen phase to the expected remaining
// downtime, summed over the phase timeouts still ahead of rehydration.
var downtimeEstimates = map[Phase]time.Duration{
	PhaseFreezing:     27 * time.Minute,
	PhaseFrozen:       22 * time.Minute,
	PhaseSnapshotting: 22 * time.Minute,
	PhaseTransferring: 12 * time.Minute,
	PhaseVerifying:    12 * time.Minute,
	PhaseRehydrating:  10 * time.Minute,
}

// Guard rejects messages to agents whose ticket sits in a frozen phase.
type Guard struct {
	tickets *TicketStore
}

func NewGuard(tickets *TicketStore) *Guard {
	return &Guard{tickets: tickets}
}

// Check implements a2a.FrozenGuard.
func (g *Guard) Check(agentID string) a2a.GuardResult {
	ticket, ok := g.tickets.GetByAgent(agentID)
	if !ok || !frozenPhases[ticket.Phase] {
		return a2a.GuardResult{}
	}
	return a2a.GuardResult{
		Rejected:            true,
		Reason:              fmt.Sprintf("agent %s is migrating (phase %s)", agentID, ticket.Phase),
		EstimatedDowntimeMs: downtimeEstimates[ticket.Phase].Milliseconds(),
	}
}
