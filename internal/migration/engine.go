package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flocklabs/flock/internal/audit"
	"github.com/flocklabs/flock/internal/home"
	"github.com/flocklabs/flock/internal/registry"
	"github.com/flocklabs/flock/internal/store"
)

// auditActions names the audit entry appended for each phase entered.
var auditActions = map[Phase]string{
	PhaseRequested:    "migration.initiated",
	PhaseAuthorized:   "migration.authorized",
	PhaseFreezing:     "migration.freezing",
	PhaseFrozen:       "migration.frozen",
	PhaseSnapshotting: "migration.snapshotting",
	PhaseTransferring: "migration.transferring",
	PhaseVerifying:    "migration.verifying",
	PhaseRehydrating:  "migration.rehydrating",
	PhaseFinalizing:   "migration.finalizing",
	PhaseCompleted:    "migration.finalized",
	PhaseRollingBack:  "migration.rolling-back",
	PhaseAborted:      "migration.aborted",
	PhaseFailed:       "migration.failed",
}

// Engine drives migration tickets through the phase FSM and applies
// the home, registry, and assignment side effects of each phase.
type Engine struct {
	nodeID      string
	tickets     *TicketStore
	homes       *home.Manager
	nodes       *registry.NodeRegistry
	assignments *registry.AssignmentStore
	audit       *audit.Logger
	logger      *slog.Logger
}

type EngineOption func(*Engine)

// WithAssignments enables the central-topology assignment hook.
func WithAssignments(s *registry.AssignmentStore) EngineOption {
	return func(e *Engine) { e.assignments = s }
}

func NewEngine(nodeID string, tickets *TicketStore, homes *home.Manager,
	nodes *registry.NodeRegistry, auditLog *audit.Logger, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		nodeID:  nodeID,
		tickets: tickets,
		homes:   homes,
		nodes:   nodes,
		audit:   auditLog,
		logger:  logger.With("component", "migration-engine", "node_id", nodeID),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Tickets exposes the ticket store for the guard and handlers.
func (e *Engine) Tickets() *TicketStore { return e.tickets }

// Initiate creates a ticket in REQUESTED for moving agentID to
// targetNodeID. An existing non-terminal ticket for the agent rejects
// the request.
func (e *Engine) Initiate(ctx context.Context, agentID, targetNodeID string, reason Reason) (*Ticket, error) {
	source := Endpoint{
		NodeID: e.nodeID,
		HomeID: store.HomeID(agentID, e.nodeID),
	}
	if self, ok := e.nodes.Get(e.nodeID); ok {
		source.Endpoint = self.A2AEndpoint
	}
	target := Endpoint{
		NodeID: targetNodeID,
		HomeID: store.HomeID(agentID, targetNodeID),
	}
	if node, ok := e.nodes.Get(targetNodeID); ok {
		target.Endpoint = node.A2AEndpoint
	}

	ticket, err := e.tickets.Create(agentID, source, target, reason)
	if err != nil {
		return nil, err
	}
	e.auditPhase(ctx, ticket, PhaseRequested, string(reason))
	e.logger.Info("migration initiated", "migration_id", ticket.MigrationID,
		"agent_id", agentID, "target", targetNodeID, "reason", reason)
	return ticket, nil
}

// AdvancePhase moves the ticket to the next canonical phase and applies
// that phase's home side effect.
func (e *Engine) AdvancePhase(ctx context.Context, migrationID string) (*Ticket, error) {
	current, err := e.tickets.Get(migrationID)
	if err != nil {
		return nil, err
	}
	next, ok := NextPhase(current.Phase)
	if !ok {
		return nil, fmt.Errorf("%w: no canonical successor of %s", ErrInvalidPhaseTransition, current.Phase)
	}
	ticket, err := e.tickets.UpdatePhase(migrationID, next, nil)
	if err != nil {
		return nil, err
	}
	if err := e.applyPhaseEffect(ctx, ticket, next); err != nil {
		return nil, err
	}
	e.auditPhase(ctx, ticket, next, "")
	return ticket, nil
}

// applyPhaseEffect runs the home transition bound to entering a phase.
func (e *Engine) applyPhaseEffect(ctx context.Context, t *Ticket, entered Phase) error {
	switch entered {
	case PhaseFrozen:
		_, err := e.homes.Transition(ctx, t.Source.HomeID, store.HomeFrozen,
			"migration freeze", "migration:"+t.MigrationID)
		return err
	case PhaseTransferring:
		_, err := e.homes.Transition(ctx, t.Source.HomeID, store.HomeMigrating,
			"migration transfer", "migration:"+t.MigrationID)
		return err
	}
	return nil
}

// HandleVerification consumes the target's verification verdict. On
// success the ticket advances to REHYDRATING with ownership flipped to
// target in the same store write. On failure it enters ROLLING_BACK.
func (e *Engine) HandleVerification(ctx context.Context, migrationID string, result VerificationResult) (*Ticket, error) {
	if result.Verified {
		owner := OwnerTarget
		ticket, err := e.tickets.UpdatePhase(migrationID, PhaseRehydrating, &TicketUpdate{OwnershipHolder: &owner})
		if err != nil {
			return nil, err
		}
		e.auditPhase(ctx, ticket, PhaseRehydrating, "ownership flipped to target")
		return ticket, nil
	}

	reason := result.FailureReason
	ticket, err := e.tickets.UpdatePhase(migrationID, PhaseRollingBack, &TicketUpdate{Error: &reason})
	if err != nil {
		return nil, err
	}
	e.auditPhase(ctx, ticket, PhaseRollingBack, "verification failed: "+reason)
	return ticket, nil
}

// Complete finalizes a migration: FINALIZING -> COMPLETED plus the
// registry, assignment, and home hooks.
func (e *Engine) Complete(ctx context.Context, migrationID, newHomeID, newEndpoint string) (*Ticket, error) {
	ticket, err := e.tickets.UpdatePhase(migrationID, PhaseCompleted, nil)
	if err != nil {
		return nil, err
	}

	e.nodes.RemoveAgent(ticket.Source.NodeID, ticket.AgentID)
	if !e.nodes.AddAgent(ticket.Target.NodeID, ticket.AgentID) {
		endpoint := newEndpoint
		if endpoint == "" {
			endpoint = ticket.Target.Endpoint
		}
		e.nodes.Register(registry.NodeEntry{
			NodeID:      ticket.Target.NodeID,
			A2AEndpoint: endpoint,
			Status:      registry.NodeOnline,
			AgentIDs:    []string{ticket.AgentID},
		})
	}
	if e.assignments != nil {
		e.assignments.Reassign(ticket.AgentID, ticket.Target.NodeID)
	}
	if _, err := e.homes.Transition(ctx, ticket.Source.HomeID, store.HomeRetired,
		"migration completed, home moved to "+newHomeID, "migration:"+ticket.MigrationID); err != nil {
		e.logger.Warn("retire source home failed", "home_id", ticket.Source.HomeID, "error", err)
	}
	e.auditPhase(ctx, ticket, PhaseCompleted, "new home "+newHomeID)
	e.logger.Info("migration completed", "migration_id", migrationID, "agent_id", ticket.AgentID)
	return ticket, nil
}

// Rollback walks the ticket to ABORTED, restoring the source home to
// LEASED when a freeze had occurred. ROLLING_BACK is only reachable from
// FROZEN onward: a ticket rejected before any freeze aborts directly,
// and a FREEZING failure lands in FAILED.
func (e *Engine) Rollback(ctx context.Context, migrationID, reason string) (*Ticket, error) {
	current, err := e.tickets.Get(migrationID)
	if err != nil {
		return nil, err
	}
	if current.Phase.IsTerminal() {
		return current, nil
	}
	if current.Phase != PhaseRollingBack {
		if !CanTransition(current.Phase, PhaseRollingBack) {
			if !CanTransition(current.Phase, PhaseAborted) {
				return e.Fail(ctx, migrationID, reason)
			}
			ticket, err := e.tickets.UpdatePhase(migrationID, PhaseAborted, &TicketUpdate{Error: &reason})
			if err != nil {
				return nil, err
			}
			e.auditPhase(ctx, ticket, PhaseAborted, reason)
			e.logger.Info("migration aborted", "migration_id", migrationID, "reason", reason)
			return ticket, nil
		}
		if current, err = e.tickets.UpdatePhase(migrationID, PhaseRollingBack, &TicketUpdate{Error: &reason}); err != nil {
			return nil, err
		}
		e.auditPhase(ctx, current, PhaseRollingBack, reason)
	}

	e.restoreFrozenHome(ctx, current)

	ticket, err := e.tickets.UpdatePhase(migrationID, PhaseAborted, nil)
	if err != nil {
		return nil, err
	}
	e.auditPhase(ctx, ticket, PhaseAborted, reason)
	e.logger.Info("migration rolled back", "migration_id", migrationID, "reason", reason)
	return ticket, nil
}

// Fail marks the ticket FAILED.
func (e *Engine) Fail(ctx context.Context, migrationID, cause string) (*Ticket, error) {
	ticket, err := e.tickets.UpdatePhase(migrationID, PhaseFailed, &TicketUpdate{Error: &cause})
	if err != nil {
		return nil, err
	}
	e.restoreFrozenHome(ctx, ticket)
	e.auditPhase(ctx, ticket, PhaseFailed, cause)
	return ticket, nil
}

// restoreFrozenHome returns the source home to LEASED if the migration
// froze it.
func (e *Engine) restoreFrozenHome(ctx context.Context, t *Ticket) {
	h, err := e.homes.Get(ctx, t.Source.HomeID)
	if err != nil {
		return
	}
	if h.State != store.HomeFrozen && h.State != store.HomeMigrating {
		return
	}
	if _, err := e.homes.Transition(ctx, t.Source.HomeID, store.HomeLeased,
		"migration rollback", "migration:"+t.MigrationID); err != nil {
		e.logger.Warn("restore home failed", "home_id", t.Source.HomeID, "error", err)
	}
}

// ListActive returns all non-terminal tickets.
func (e *Engine) ListActive() []*Ticket {
	active := true
	return e.tickets.List(TicketFilter{Active: &active})
}

// GetStatus returns the ticket with elapsed time in the current phase.
func (e *Engine) GetStatus(migrationID string) (*Ticket, time.Duration, error) {
	ticket, err := e.tickets.Get(migrationID)
	if err != nil {
		return nil, 0, err
	}
	entered, ok := ticket.Timestamps[ticket.Phase]
	if !ok {
		entered = ticket.UpdatedAt
	}
	return ticket, time.Since(entered), nil
}

// CheckTimeouts scans active tickets and fails any whose current phase
// exceeded its timeout.
func (e *Engine) CheckTimeouts(ctx context.Context) {
	for _, ticket := range e.ListActive() {
		limit, ok := PhaseTimeouts[ticket.Phase]
		if !ok {
			continue
		}
		entered, ok := ticket.Timestamps[ticket.Phase]
		if !ok || time.Since(entered) <= limit {
			continue
		}
		cause := fmt.Sprintf("phase %s exceeded %s", ticket.Phase, limit)
		if ticket.OwnershipHolder == OwnerSource {
			_, err := e.Fail(ctx, ticket.MigrationID, cause)
			if err != nil {
				e.logger.Warn("timeout fail", "migration_id", ticket.MigrationID, "error", err)
			}
		} else {
			if _, err := e.tickets.UpdatePhase(ticket.MigrationID, PhaseRollingBack, &TicketUpdate{Error: &cause}); err != nil {
				e.logger.Warn("timeout rollback", "migration_id", ticket.MigrationID, "error", err)
			}
		}
	}
}

func (e *Engine) auditPhase(ctx context.Context, t *Ticket, phase Phase, detail string) {
	action := auditActions[phase]
	if action == "" {
		action = "migration." + strings.ToLower(string(phase))
	}
	level := store.AuditGreen
	if phase == PhaseFailed || phase == PhaseRollingBack {
		level = store.AuditRed
	}
	e.audit.Append(ctx, audit.Entry{
		HomeID:  t.Source.HomeID,
		AgentID: t.AgentID,
		Action:  action,
		Level:   level,
		Detail:  fmt.Sprintf("migration %s: %s", t.MigrationID, detail),
	})
}
