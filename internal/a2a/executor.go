package a2a

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/flocklabs/flock/internal/audit"
	"github.com/flocklabs/flock/internal/session"
	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/internal/triage"
)

// Executor handles one agent's inbound A2A messages.
type Executor interface {
	Execute(ctx context.Context, msg Message) (Task, error)
}

// DefaultSessionTimeout bounds each LLM session call.
const DefaultSessionTimeout = 5 * time.Minute

// SessionExecutor converts an A2A message into an LLM-session prompt and
// the reply into a task with a response artifact. Every execution writes
// a TaskRecord and an audit entry.
type SessionExecutor struct {
	agentID  string
	role     Role
	nodeID   string
	cfg      session.Config
	sessions session.Sender
	tasks    store.TaskStore
	audit    *audit.Logger
	triage   *triage.Service
	timeout  time.Duration
	logger   *slog.Logger
}

type ExecutorOption func(*SessionExecutor)

func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *SessionExecutor) { e.timeout = d }
}

func WithTriage(svc *triage.Service) ExecutorOption {
	return func(e *SessionExecutor) { e.triage = svc }
}

func NewSessionExecutor(agentID string, role Role, nodeID string, cfg session.Config,
	sessions session.Sender, tasks store.TaskStore, auditLog *audit.Logger,
	logger *slog.Logger, opts ...ExecutorOption) *SessionExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &SessionExecutor{
		agentID:  agentID,
		role:     role,
		nodeID:   nodeID,
		cfg:      cfg,
		sessions: sessions,
		tasks:    tasks,
		audit:    auditLog,
		timeout:  DefaultSessionTimeout,
		logger:   logger.With("component", "executor", "agent_id", agentID),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *SessionExecutor) Execute(ctx context.Context, msg Message) (Task, error) {
	started := time.Now()
	meta := msg.Meta()
	text := msg.Text()

	rec := &store.TaskRecord{
		TaskID:      uuid.NewString(),
		ContextID:   uuid.NewString(),
		FromAgentID: fromAgent(meta),
		ToAgentID:   e.agentID,
		State:       store.TaskSubmitted,
		MessageType: messageType(meta),
		Summary:     summarize(text),
		CreatedAt:   started.UTC(),
		UpdatedAt:   started.UTC(),
	}
	if err := e.tasks.Insert(ctx, rec); err != nil {
		return Task{}, fmt.Errorf("record task: %w", err)
	}

	isSysadmin := e.role == RoleSysadmin && meta != nil && meta.FlockType == TypeSysadminReq
	requestID := ""
	prompt := e.buildPrompt(text, meta)
	if isSysadmin {
		requestID = uuid.NewString()
		prompt = fmt.Sprintf("%s\n\nRequest ID: %s\nClassify this request with the %s tool before replying.",
			prompt, requestID, triage.ToolName)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	reply, err := e.sessions.Send(callCtx, e.agentID, prompt, e.cfg)
	if err != nil {
		return e.fail(ctx, rec, started, err)
	}

	artifacts := []Artifact{TextArtifact(uuid.NewString(), "response", reply.Text)}
	level := store.AuditGreen
	if isSysadmin {
		level = store.AuditYellow
		triageLevel := store.AuditWhite
		if e.triage != nil {
			if decision, ok := e.triage.Pop(requestID); ok {
				triageLevel = decision.Level
				artifacts = append(artifacts, DataArtifact(uuid.NewString(), "triage", map[string]any{
					"requestId":   decision.RequestID,
					"level":       string(decision.Level),
					"reasoning":   decision.Reasoning,
					"actionPlan":  decision.ActionPlan,
					"riskFactors": decision.RiskFactors,
				}))
			}
		}
		rec.ResponsePayload = map[string]any{"triageLevel": string(triageLevel), "requestId": requestID}
	}

	now := time.Now().UTC()
	rec.State = store.TaskCompleted
	rec.ResponseText = reply.Text
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	if err := e.tasks.Update(ctx, rec); err != nil {
		e.logger.Error("task update failed", "task_id", rec.TaskID, "error", err)
	}
	e.audit.Append(ctx, audit.Entry{
		HomeID:   store.HomeID(e.agentID, e.nodeID),
		AgentID:  e.agentID,
		Action:   "a2a-message",
		Level:    level,
		Detail:   rec.Summary,
		Result:   "completed",
		Duration: time.Since(started),
	})
	return NewTask(rec.TaskID, rec.ContextID, store.TaskCompleted, artifacts...), nil
}

// fail marks the task failed; timeouts audit at YELLOW, other failures RED.
func (e *SessionExecutor) fail(ctx context.Context, rec *store.TaskRecord, started time.Time, cause error) (Task, error) {
	now := time.Now().UTC()
	rec.State = store.TaskFailed
	rec.ResponseText = cause.Error()
	rec.UpdatedAt = now
	rec.CompletedAt = &now
	if err := e.tasks.Update(ctx, rec); err != nil {
		e.logger.Error("task update failed", "task_id", rec.TaskID, "error", err)
	}
	level := store.AuditRed
	if errors.Is(cause, context.DeadlineExceeded) {
		level = store.AuditYellow
	}
	e.audit.Append(ctx, audit.Entry{
		HomeID:   store.HomeID(e.agentID, e.nodeID),
		AgentID:  e.agentID,
		Action:   "a2a-message",
		Level:    level,
		Detail:   rec.Summary,
		Result:   "failed: " + cause.Error(),
		Duration: time.Since(started),
	})
	return NewTask(rec.TaskID, rec.ContextID, store.TaskFailed,
		TextArtifact(uuid.NewString(), "response", "Request failed: "+cause.Error())), cause
}

func (e *SessionExecutor) buildPrompt(text string, meta *FlockMeta) string {
	if meta == nil {
		return text
	}
	header := ""
	if meta.FlockType != "" {
		header += fmt.Sprintf("[%s", meta.FlockType)
		if meta.Urgency != "" && meta.Urgency != UrgencyNormal {
			header += " urgency=" + meta.Urgency
		}
		if meta.Project != "" {
			header += " project=" + meta.Project
		}
		header += "] "
	}
	return header + text
}

func fromAgent(meta *FlockMeta) string {
	if meta != nil && meta.FromHome != "" {
		return meta.FromHome
	}
	return "external"
}

func messageType(meta *FlockMeta) string {
	if meta != nil && meta.FlockType != "" {
		return string(meta.FlockType)
	}
	return string(TypeGeneral)
}

func summarize(text string) string {
	const max = 140
	if len(text) <= max {
		return text
	}
	// Back up to a rune boundary so the cut never splits a sequence.
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
