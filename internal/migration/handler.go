package migration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/pkg/protocol"
)

// CapacityCheck decides whether the node can host another agent.
// Absence means "always ok".
type CapacityCheck func(agentID string) error

// Handler serves the server-level migration/* JSON-RPC methods on the
// target side of a migration.
type Handler struct {
	nodeID       string
	tmpDir       string
	homeBase     string
	workBase     string
	engine       *Engine
	orchestrator *Orchestrator
	knownPeers   map[string]bool
	capacity     CapacityCheck
	logger       *slog.Logger
}

type HandlerOption func(*Handler)

// WithKnownPeers restricts migration/request to the named source nodes.
func WithKnownPeers(nodeIDs []string) HandlerOption {
	return func(h *Handler) {
		h.knownPeers = make(map[string]bool, len(nodeIDs))
		for _, id := range nodeIDs {
			h.knownPeers[id] = true
		}
	}
}

func WithCapacityCheck(fn CapacityCheck) HandlerOption {
	return func(h *Handler) { h.capacity = fn }
}

// WithOrchestrator enables migration/run on this node.
func WithOrchestrator(o *Orchestrator) HandlerOption {
	return func(h *Handler) { h.orchestrator = o }
}

func NewHandler(nodeID, tmpDir, homeBase, workBase string, engine *Engine,
	logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		nodeID:   nodeID,
		tmpDir:   tmpDir,
		homeBase: homeBase,
		workBase: workBase,
		engine:   engine,
		logger:   logger.With("component", "migration-handler", "node_id", nodeID),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle implements a2a.MigrationHandler.
func (h *Handler) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case protocol.MethodMigrationRequest:
		var p RequestParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return h.handleRequest(ctx, p)
	case protocol.MethodMigrationApprove:
		return h.phaseUpdate(params, PhaseAuthorized)
	case protocol.MethodMigrationReject:
		return h.phaseUpdate(params, PhaseAborted)
	case protocol.MethodMigrationTransfer, protocol.MethodMigrationTransferAndVerify:
		var p transferWire
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		if method == protocol.MethodMigrationTransfer {
			path, err := h.stageArchive(p)
			if err != nil {
				return nil, err
			}
			return map[string]any{"staged": true, "path": path}, nil
		}
		return h.handleTransferAndVerify(ctx, p)
	case protocol.MethodMigrationVerify:
		var p struct {
			MigrationID string `json:"migrationId"`
			Checksum    string `json:"checksum"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		result := VerifySnapshot(h.stagedPath(p.MigrationID), p.Checksum)
		return &result, nil
	case protocol.MethodMigrationRehydrate:
		var p RehydrateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return h.handleRehydrate(ctx, p)
	case protocol.MethodMigrationComplete:
		var p struct {
			MigrationID string `json:"migrationId"`
			NewHomeID   string `json:"newHomeId"`
			NewEndpoint string `json:"newEndpoint"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return h.engine.Complete(ctx, p.MigrationID, p.NewHomeID, p.NewEndpoint)
	case protocol.MethodMigrationStatus:
		var p struct {
			MigrationID string `json:"migrationId"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		ticket, elapsed, err := h.engine.GetStatus(p.MigrationID)
		if err != nil {
			return nil, a2a.NewDomainError("MIGRATION_NOT_FOUND", "migration %q not found", p.MigrationID)
		}
		return map[string]any{"ticket": ticket, "phaseElapsedMs": elapsed.Milliseconds()}, nil
	case protocol.MethodMigrationAbort:
		var p struct {
			MigrationID string `json:"migrationId"`
			Reason      string `json:"reason"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return h.engine.Rollback(ctx, p.MigrationID, p.Reason)
	case protocol.MethodMigrationRun:
		if h.orchestrator == nil {
			return nil, a2a.NewDomainError("RUN_DISABLED", "migration/run not enabled on node %s", h.nodeID)
		}
		var p struct {
			AgentID      string `json:"agentId"`
			TargetNodeID string `json:"targetNodeId"`
			Reason       Reason `json:"reason"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
		return h.orchestrator.Run(ctx, p.AgentID, p.TargetNodeID, p.Reason), nil
	default:
		return nil, a2a.NewDomainError("UNKNOWN_METHOD", "unknown migration method %q", method)
	}
}

func (h *Handler) phaseUpdate(params json.RawMessage, to Phase) (any, error) {
	var p struct {
		MigrationID string `json:"migrationId"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	var update *TicketUpdate
	if p.Reason != "" {
		update = &TicketUpdate{Error: &p.Reason}
	}
	return h.engine.Tickets().UpdatePhase(p.MigrationID, to, update)
}

// handleRequest applies the known-peer, capacity, and duplicate checks.
func (h *Handler) handleRequest(_ context.Context, p RequestParams) (*RequestAck, error) {
	if len(h.knownPeers) > 0 && !h.knownPeers[p.SourceNodeID] {
		return nil, a2a.NewDomainError("UNKNOWN_SOURCE", "source node %q is not a known peer", p.SourceNodeID)
	}
	if h.capacity != nil {
		if err := h.capacity(p.AgentID); err != nil {
			return nil, a2a.NewDomainError("CAPACITY_REJECTED", "capacity check failed: %v", err)
		}
	}
	if _, active := h.engine.Tickets().GetByAgent(p.AgentID); active {
		return nil, a2a.NewDomainError("DUPLICATE_MIGRATION",
			"agent %q already has an active migration", p.AgentID)
	}
	h.logger.Info("migration request accepted", "agent_id", p.AgentID, "source", p.SourceNodeID)
	return &RequestAck{Accepted: true}, nil
}

// handleTransferAndVerify stages the base64 archive under the tmp dir
// and verifies it in place.
func (h *Handler) handleTransferAndVerify(_ context.Context, p transferWire) (*VerificationResult, error) {
	path, err := h.stageArchive(p)
	if err != nil {
		return nil, err
	}
	result := VerifySnapshot(path, p.Checksum)
	h.logger.Info("transfer verified", "migration_id", p.MigrationID, "verified", result.Verified,
		"failure", result.FailureReason)
	return &result, nil
}

func (h *Handler) handleRehydrate(ctx context.Context, p RehydrateParams) (*RehydrateResult, error) {
	payload := p.Payload
	if payload.Portable.Archive == "" {
		payload.Portable.Archive = h.stagedPath(p.MigrationID)
	}
	homePath := p.TargetHomePath
	if homePath == "" {
		homePath = filepath.Join(h.homeBase, p.AgentID)
	}
	workPath := p.TargetWorkDir
	if workPath == "" {
		workPath = filepath.Join(h.workBase, p.AgentID)
	}
	result := Rehydrate(ctx, payload, homePath, workPath)

	if result.Success {
		note := fmt.Sprintf("# Post-migration handshake\n\nYou have been migrated to node %s (migration %s).\nReview your home files and resume any outstanding work, then this note is cleared.\n",
			h.nodeID, p.MigrationID)
		if err := WritePostMigrationNote(homePath, note); err != nil {
			h.logger.Warn("write post-migration note failed", "migration_id", p.MigrationID, "error", err)
		}
	}

	// The staging dir is purged after rehydrate regardless of outcome.
	if p.MigrationID != "" {
		os.RemoveAll(filepath.Join(h.tmpDir, p.MigrationID))
	}
	h.logger.Info("rehydrate finished", "migration_id", p.MigrationID, "success", result.Success,
		"warnings", len(result.Warnings))
	return &result, nil
}

func (h *Handler) stageArchive(p transferWire) (string, error) {
	if p.MigrationID == "" {
		return "", a2a.NewDomainError("INVALID_TRANSFER", "transfer requires migrationId")
	}
	raw, err := base64.StdEncoding.DecodeString(p.Archive)
	if err != nil {
		return "", fmt.Errorf("decode archive: %w", err)
	}
	dir := filepath.Join(h.tmpDir, p.MigrationID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	path := h.stagedPath(p.MigrationID)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("stage archive: %w", err)
	}
	return path, nil
}

func (h *Handler) stagedPath(migrationID string) string {
	return filepath.Join(h.tmpDir, migrationID, migrationID+".tar.gz")
}
