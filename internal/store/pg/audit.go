package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/flocklabs/flock/internal/store"
)

type auditStore struct {
	db *sql.DB
}

func (s *auditStore) Append(ctx context.Context, e *store.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, timestamp, home_id, agent_id, action, level, detail, result, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Timestamp, e.HomeID, e.AgentID, e.Action, string(e.Level), e.Detail, e.Result,
		e.DurationMs.Milliseconds(),
	)
	return err
}

func (s *auditStore) Query(ctx context.Context, f store.AuditFilter) ([]*store.AuditEntry, error) {
	q := newQuery(`SELECT id, timestamp, home_id, agent_id, action, level, detail, result, duration_ms FROM audit_entries`)
	if f.AgentID != nil {
		q.where("agent_id", *f.AgentID)
	}
	if f.HomeID != nil {
		q.where("home_id", *f.HomeID)
	}
	if f.Action != nil {
		q.where("action", *f.Action)
	}
	if f.Level != nil {
		q.where("level", string(*f.Level))
	}
	if f.Since != nil {
		q.whereOp("timestamp", ">=", *f.Since)
	}
	q.orderBy(`timestamp DESC`)
	q.limit(f.Limit)

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		var homeID, detail, result sql.NullString
		var level string
		var durationMs int64
		if err := rows.Scan(&e.ID, &e.Timestamp, &homeID, &e.AgentID, &e.Action, &level, &detail, &result, &durationMs); err != nil {
			return nil, err
		}
		e.HomeID = homeID.String
		e.Detail = detail.String
		e.Result = result.String
		e.Level = store.AuditLevel(level)
		e.DurationMs = time.Duration(durationMs) * time.Millisecond
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *auditStore) CountByLevel(ctx context.Context, agentID *string) (map[store.AuditLevel]int, error) {
	query := `SELECT level, COUNT(*) FROM audit_entries`
	var args []any
	if agentID != nil {
		query += ` WHERE agent_id = $1`
		args = append(args, *agentID)
	}
	query += ` GROUP BY level`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[store.AuditLevel]int{}
	for rows.Next() {
		var level string
		var n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, err
		}
		counts[store.AuditLevel(level)] = n
	}
	return counts, rows.Err()
}
