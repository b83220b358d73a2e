package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flocklabs/flock/internal/store"
)

// Result is the outcome of one end-to-end orchestrated migration.
type Result struct {
	Success     bool     `json:"success"`
	MigrationID string   `json:"migrationId,omitempty"`
	FinalPhase  Phase    `json:"finalPhase,omitempty"`
	Error       string   `json:"error,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Paths resolves the filesystem layout for one agent on the source node.
type Paths struct {
	HomePath func(agentID string) string
	WorkPath func(agentID string) string
	TmpDir   string
}

// TransportFactory yields the transport for a target node endpoint.
type TransportFactory func(endpoint string) Transport

// Orchestrator drives a single migration end to end, rolling back on
// any failure.
type Orchestrator struct {
	engine    *Engine
	paths     Paths
	transport TransportFactory
	logger    *slog.Logger
}

func NewOrchestrator(engine *Engine, paths Paths, transport TransportFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:    engine,
		paths:     paths,
		transport: transport,
		logger:    logger.With("component", "migration-orchestrator"),
	}
}

// Run executes initiate through complete for one agent. Any failure past
// initiation rolls the ticket back and reports the final phase.
func (o *Orchestrator) Run(ctx context.Context, agentID, targetNodeID string, reason Reason) *Result {
	ticket, err := o.engine.Initiate(ctx, agentID, targetNodeID, reason)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	result, err := o.drive(ctx, ticket)
	if err != nil {
		return o.fail(ctx, ticket.MigrationID, result, err)
	}
	return result
}

func (o *Orchestrator) drive(ctx context.Context, ticket *Ticket) (*Result, error) {
	id := ticket.MigrationID
	result := &Result{MigrationID: id}
	transport := o.transport(ticket.Target.Endpoint)

	ack, err := DoClassified(ctx, RetryNetwork, func() (*RequestAck, error) {
		return transport.NotifyRequest(ctx, RequestParams{
			MigrationID:  id,
			AgentID:      ticket.AgentID,
			SourceNodeID: ticket.Source.NodeID,
			TargetNodeID: ticket.Target.NodeID,
			Reason:       ticket.Reason,
		})
	})
	if err != nil {
		return result, fmt.Errorf("target rejected request: %w", err)
	}
	if !ack.Accepted {
		return result, fmt.Errorf("target rejected request: %s", ack.Error)
	}

	// REQUESTED -> AUTHORIZED -> FREEZING -> FROZEN -> SNAPSHOTTING
	for _, want := range []Phase{PhaseAuthorized, PhaseFreezing, PhaseFrozen, PhaseSnapshotting} {
		if _, err := o.engine.AdvancePhase(ctx, id); err != nil {
			return result, fmt.Errorf("advance to %s: %w", want, err)
		}
	}

	snapshot, err := DoClassified(ctx, RetryLocal, func() (*Snapshot, error) {
		return CreateSnapshot(o.paths.HomePath(ticket.AgentID), o.paths.WorkPath(ticket.AgentID), id, o.paths.TmpDir)
	})
	if err != nil {
		var sizeErr *SizeExceededError
		if errors.As(err, &sizeErr) {
			return result, fmt.Errorf("%s: %w", CodeSizeExceeded, err)
		}
		return result, fmt.Errorf("snapshot: %w", err)
	}
	defer os.RemoveAll(filepath.Join(o.paths.TmpDir, id))

	if _, err := o.engine.AdvancePhase(ctx, id); err != nil { // TRANSFERRING
		return result, err
	}

	archive, err := os.ReadFile(snapshot.ArchivePath)
	if err != nil {
		return result, fmt.Errorf("read archive: %w", err)
	}
	if _, err := o.engine.AdvancePhase(ctx, id); err != nil { // VERIFYING
		return result, err
	}
	verification, err := DoClassified(ctx, RetryNetwork, func() (*VerificationResult, error) {
		return transport.TransferAndVerify(ctx, TransferParams{
			MigrationID: id,
			Archive:     archive,
			Checksum:    snapshot.Checksum,
		})
	})
	if err != nil {
		return result, fmt.Errorf("transfer: %w", err)
	}

	if _, err := o.engine.HandleVerification(ctx, id, *verification); err != nil {
		return result, err
	}
	if !verification.Verified {
		return result, fmt.Errorf("verification failed: %s", verification.FailureReason)
	}

	rehydration, err := transport.Rehydrate(ctx, RehydrateParams{
		MigrationID: id,
		AgentID:     ticket.AgentID,
		Payload: Payload{
			Portable: Portable{
				Checksum:  snapshot.Checksum,
				SizeBytes: snapshot.SizeBytes,
			},
			AgentIdentity: ticket.AgentID,
			WorkState:     snapshot.WorkState,
		},
	})
	if err != nil {
		return result, fmt.Errorf("rehydrate: %w", err)
	}
	result.Warnings = append(result.Warnings, rehydration.Warnings...)
	if !rehydration.Success {
		return result, fmt.Errorf("rehydrate failed: %s", rehydration.Error)
	}

	if _, err := o.engine.AdvancePhase(ctx, id); err != nil { // FINALIZING
		return result, err
	}
	newHomeID := store.HomeID(ticket.AgentID, ticket.Target.NodeID)
	ticket, err = o.engine.Complete(ctx, id, newHomeID, ticket.Target.Endpoint)
	if err != nil {
		return result, err
	}

	result.Success = true
	result.FinalPhase = ticket.Phase
	return result, nil
}

// fail rolls the ticket back and reports the terminal phase.
func (o *Orchestrator) fail(ctx context.Context, migrationID string, result *Result, cause error) *Result {
	o.logger.Warn("migration failed", "migration_id", migrationID, "error", cause)
	result.Success = false
	result.Error = cause.Error()
	ticket, err := o.engine.Rollback(ctx, migrationID, cause.Error())
	if err != nil {
		o.logger.Error("rollback failed", "migration_id", migrationID, "error", err)
		if t, getErr := o.engine.Tickets().Get(migrationID); getErr == nil {
			result.FinalPhase = t.Phase
		}
		return result
	}
	result.FinalPhase = ticket.Phase
	return result
}
