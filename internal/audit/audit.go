// Package audit is the append-only structured event record. Entries are
// written through a Logger so every event carries an id, a timestamp, and
// one of the four levels.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flocklabs/flock/internal/store"
)

// Logger appends audit entries and mirrors them to slog.
type Logger struct {
	store  store.AuditStore
	logger *slog.Logger
}

func NewLogger(s store.AuditStore, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: s, logger: logger.With("component", "audit")}
}

// Entry is the caller-facing shape; ID and Timestamp are filled on append.
type Entry struct {
	HomeID   string
	AgentID  string
	Action   string
	Level    store.AuditLevel
	Detail   string
	Result   string
	Duration time.Duration
}

// Append writes one event. Append failures are logged and swallowed;
// auditing must never fail the operation being audited.
func (l *Logger) Append(ctx context.Context, e Entry) {
	rec := &store.AuditEntry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		HomeID:     e.HomeID,
		AgentID:    e.AgentID,
		Action:     e.Action,
		Level:      e.Level,
		Detail:     e.Detail,
		Result:     e.Result,
		DurationMs: e.Duration,
	}
	if err := l.store.Append(ctx, rec); err != nil {
		l.logger.Error("audit append failed", "action", e.Action, "error", err)
		return
	}
	l.logger.Debug("audit", "action", e.Action, "agent_id", e.AgentID, "level", e.Level)
}

// Query returns newest-first entries up to the filter limit.
func (l *Logger) Query(ctx context.Context, f store.AuditFilter) ([]*store.AuditEntry, error) {
	return l.store.Query(ctx, f)
}

// CountByLevel aggregates entries per level, optionally for one agent.
func (l *Logger) CountByLevel(ctx context.Context, agentID *string) (map[store.AuditLevel]int, error) {
	return l.store.CountByLevel(ctx, agentID)
}
