package pg

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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
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
		`UPDATE tasks SET state = $1, summary = $2, payload = $3, response_text = $4, response_payload = $5,
		                  updated_at = $6, completed_at = $7
		 WHERE task_id = $8`,
		string(t.State), t.Summary, string(payload), t.ResponseText, string(respPayload),
		t.UpdatedAt, t.CompletedAt, t.TaskID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const taskSelect = `SELECT task_id, context_id, from_agent_id, to_agent_id, state, message_type, summary,
	payload, response_text, response_payload, created_at, updated_at, completed_at FROM tasks`

func (s *taskStore) Get(ctx context.Context, taskID string) (*store.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE task_id = $1`, taskID)
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

func (s *taskStore) List(ctx context.Context, f store.TaskFilter) ([]*store.TaskRecord, error) {
	q := newQuery(taskSelect)
	if f.FromAgentID != nil {
		q.where("from_agent_id", *f.FromAgentID)
	}
	if f.ToAgentID != nil {
		q.where("to_agent_id", *f.ToAgentID)
	}
	if f.State != nil {
		q.where("state", string(*f.State))
	}
	if f.ContextID != nil {
		q.where("context_id", *f.ContextID)
	}
	if f.Since != nil {
		q.whereOp("created_at", ">=", *f.Since)
	}
	q.orderBy(`created_at DESC, task_id DESC`)
	q.limit(f.Limit)

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
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
