package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/flocklabs/flock/internal/store"
)

type homeStore struct {
	db *sql.DB
}

func (s *homeStore) Insert(ctx context.Context, h *store.Home) error {
	meta, _ := json.Marshal(h.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO homes (home_id, agent_id, node_id, state, lease_expires_at, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.HomeID, h.AgentID, h.NodeID, string(h.State), h.LeaseExpiresAt, string(meta), h.CreatedAt, h.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *homeStore) Update(ctx context.Context, h *store.Home) error {
	meta, _ := json.Marshal(h.Metadata)
	res, err := s.db.ExecContext(ctx,
		`UPDATE homes SET agent_id = $1, node_id = $2, state = $3, lease_expires_at = $4, metadata = $5, updated_at = $6
		 WHERE home_id = $7`,
		h.AgentID, h.NodeID, string(h.State), h.LeaseExpiresAt, string(meta), h.UpdatedAt, h.HomeID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const homeSelect = `SELECT home_id, agent_id, node_id, state, lease_expires_at, metadata, created_at, updated_at FROM homes`

func (s *homeStore) Get(ctx context.Context, homeID string) (*store.Home, error) {
	rows, err := s.db.QueryContext(ctx, homeSelect+` WHERE home_id = $1`, homeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	homes, err := scanHomeRows(rows)
	if err != nil {
		return nil, err
	}
	if len(homes) == 0 {
		return nil, store.ErrNotFound
	}
	return homes[0], nil
}

func (s *homeStore) List(ctx context.Context, f store.HomeFilter) ([]*store.Home, error) {
	q := newQuery(homeSelect)
	if f.AgentID != nil {
		q.where("agent_id", *f.AgentID)
	}
	if f.NodeID != nil {
		q.where("node_id", *f.NodeID)
	}
	if f.State != nil {
		q.where("state", string(*f.State))
	}
	q.orderBy(`created_at ASC, home_id ASC`)

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	homes, err := scanHomeRows(rows)
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(homes) > f.Limit {
		homes = homes[len(homes)-f.Limit:]
	}
	return homes, nil
}

func (s *homeStore) Count(ctx context.Context, f store.HomeFilter) (int, error) {
	f.Limit = 0
	homes, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(homes), nil
}

func (s *homeStore) Delete(ctx context.Context, homeID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM homes WHERE home_id = $1`, homeID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanHomeRows(rows *sql.Rows) ([]*store.Home, error) {
	var homes []*store.Home
	for rows.Next() {
		var h store.Home
		var state string
		var lease sql.NullTime
		var meta sql.NullString
		if err := rows.Scan(&h.HomeID, &h.AgentID, &h.NodeID, &state, &lease, &meta, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.State = store.HomeState(state)
		if lease.Valid {
			t := lease.Time
			h.LeaseExpiresAt = &t
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			_ = json.Unmarshal([]byte(meta.String), &h.Metadata)
		}
		homes = append(homes, &h)
	}
	return homes, rows.Err()
}

type transitionStore struct {
	db *sql.DB
}

func (s *transitionStore) Append(ctx context.Context, t *store.HomeTransition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO home_transitions (home_id, from_state, to_state, reason, triggered_by, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.HomeID, string(t.FromState), string(t.ToState), t.Reason, t.TriggeredBy, t.Timestamp,
	)
	return err
}

func (s *transitionStore) List(ctx context.Context, f store.TransitionFilter) ([]*store.HomeTransition, error) {
	q := newQuery(`SELECT home_id, from_state, to_state, reason, triggered_by, timestamp FROM home_transitions`)
	if f.HomeID != nil {
		q.where("home_id", *f.HomeID)
	}
	if f.Since != nil {
		q.whereOp("timestamp", ">=", *f.Since)
	}
	q.orderBy(`id ASC`)

	rows, err := s.db.QueryContext(ctx, q.sql, q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.HomeTransition
	for rows.Next() {
		var t store.HomeTransition
		var from, to string
		var reason, by sql.NullString
		if err := rows.Scan(&t.HomeID, &from, &to, &reason, &by, &t.Timestamp); err != nil {
			return nil, err
		}
		t.FromState = store.HomeState(from)
		t.ToState = store.HomeState(to)
		t.Reason = reason.String
		t.TriggeredBy = by.String
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
