package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/flocklabs/flock/internal/store"
)

type taskStore struct {
	db *sql.DB
}

func (s *taskStore) Insert(ctx context.Context, t *store.TaskRecord) error {
	payload, _ := json.Marshal(t.Payload)
	respPayload, _ := json.Marshal(t.ResponsePayload)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, context_id, from_agent_id, to_agent_id, state, message_type, summary,
		                    payload, response_text, response_payload, created_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.ContextID, t.FromAgentID, t.ToAgentID, string(t.State), t.MessageType, t.Summary,
		string(payload), t.ResponseText, string(respPayload), t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *taskStore) Update(ctx context.Context, t *store.TaskRecord) error {
	payload, _ := json.Marshal(t.Payload)
	respPayload, _ := json.Marshal(t.ResponsePayload)
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, summary = ?, payload = ?, response_text = ?, response_payload = ?,
		                  updated_at = ?, completed_at = ?
		 WHERE task_id = ?`,
		string(t.State), t.Summary, string(payload), t.ResponseText, string(respPayload),
		t.UpdatedAt, t.CompletedAt, t.TaskID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *taskStore) Get(ctx context.Context, taskID string) (*store.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.ErrNotFound
	}
	return tasks[0], nil
}

const taskSelect = `SELECT task_id, context_id, from_agent_id, to_agent_id, state, message_type, summary,
	payload, response_text, response_payload, created_at, updated_at, completed_at FROM tasks`

func (s *taskStore) List(ctx context.Context, f store.TaskFilter) ([]*store.TaskRecord, error) {
	query := taskSelect + ` WHERE 1=1`
	var args []any
	if f.FromAgentID != nil {
		query += ` AND from_agent_id = ?`
		args = append(args, *f.FromAgentID)
	}
	if f.ToAgentID != nil {
		query += ` AND to_agent_id = ?`
		args = append(args, *f.ToAgentID)
	}
	if f.State != nil {
		query += ` AND state = ?`
		args = append(args, string(*f.State))
	}
	if f.ContextID != nil {
		query += ` AND context_id = ?`
		args = append(args, *f.ContextID)
	}
	if f.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *f.Since)
	}
	query += ` ORDER BY created_at DESC, task_id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

func (s *taskStore) Count(ctx context.Context, f store.TaskFilter) (int, error) {
	f.Limit = 0
	tasks, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

func scanTaskRows(rows *sql.Rows) ([]*store.TaskRecord, error) {
	var tasks []*store.TaskRecord
	for rows.Next() {
		var t store.TaskRecord
		var state string
		var contextID, msgType, summary, payload, respText, respPayload sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&t.TaskID, &contextID, &t.FromAgentID, &t.ToAgentID, &state, &msgType, &summary,
			&payload, &respText, &respPayload, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
			return nil, err
		}
		// Row corruption tolerance: unknown state becomes "submitted".
		t.State = store.NormalizeTaskState(store.TaskState(state))
		t.ContextID = contextID.String
		t.MessageType = msgType.String
		t.Summary = summary.String
		t.ResponseText = respText.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			_ = json.Unmarshal([]byte(payload.String), &t.Payload)
		}
		if respPayload.Valid && respPayload.String != "" && respPayload.String != "null" {
			_ = json.Unmarshal([]byte(respPayload.String), &t.ResponsePayload)
		}
		if completedAt.Valid {
			ts := completedAt.Time
			t.CompletedAt = &ts
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
