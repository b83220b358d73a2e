package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/flocklabs/flock/internal/store"
)

type agentLoopStore struct {
	db *sql.DB
}

func (s *agentLoopStore) Init(ctx context.Context, agentID string, state store.LoopState) (*store.AgentLoopRecord, error) {
	now := time.Now().UTC()
	state = store.NormalizeLoopState(state)
	rec := &store.AgentLoopRecord{AgentID: agentID, State: state}
	var awakened, slept *time.Time
	if state == store.LoopSleep {
		slept = &now
		rec.SleptAt = slept
	} else {
		awakened = &now
		rec.AwakenedAt = awakened
	}
	// Boot-time convergence: state is always reset to the requested value.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_loop_states (agent_id, state, last_tick_at, awakened_at, slept_at, sleep_reason)
		 VALUES (?, ?, NULL, ?, ?, '')
		 ON CONFLICT (agent_id) DO UPDATE SET state = excluded.state,
		   awakened_at = excluded.awakened_at, slept_at = excluded.slept_at, sleep_reason = ''`,
		agentID, string(state), awakened, slept,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *agentLoopStore) Get(ctx context.Context, agentID string) (*store.AgentLoopRecord, error) {
	rows, err := s.db.QueryContext(ctx, loopSelect+` WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, err := scanLoopRows(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

func (s *agentLoopStore) SetState(ctx context.Context, agentID string, state store.LoopState, reason string) (*store.AgentLoopRecord, error) {
	now := time.Now().UTC()
	state = store.NormalizeLoopState(state)

	var res sql.Result
	var err error
	switch state {
	case store.LoopSleep:
		res, err = s.db.ExecContext(ctx,
			`UPDATE agent_loop_states SET state = ?, slept_at = ?, sleep_reason = ? WHERE agent_id = ?`,
			string(state), now, reason, agentID)
	case store.LoopAwake:
		res, err = s.db.ExecContext(ctx,
			`UPDATE agent_loop_states SET state = ?, slept_at = NULL, sleep_reason = '', awakened_at = ? WHERE agent_id = ?`,
			string(state), now, agentID)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE agent_loop_states SET state = ? WHERE agent_id = ?`,
			string(state), agentID)
	}
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, store.ErrNotFound
	}
	return s.Get(ctx, agentID)
}

func (s *agentLoopStore) UpdateLastTick(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_loop_states SET last_tick_at = ? WHERE agent_id = ?`, at, agentID)
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

const loopSelect = `SELECT agent_id, state, last_tick_at, awakened_at, slept_at, sleep_reason FROM agent_loop_states`

func (s *agentLoopStore) List(ctx context.Context, states ...store.LoopState) ([]*store.AgentLoopRecord, error) {
	query := loopSelect
	var args []any
	if len(states) > 0 {
		query += ` WHERE state IN (`
		for i, st := range states {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, string(st))
		}
		query += `)`
	}
	query += ` ORDER BY agent_id ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLoopRows(rows)
}

func scanLoopRows(rows *sql.Rows) ([]*store.AgentLoopRecord, error) {
	var out []*store.AgentLoopRecord
	for rows.Next() {
		var r store.AgentLoopRecord
		var state string
		var lastTick, awakened, slept sql.NullTime
		var reason sql.NullString
		if err := rows.Scan(&r.AgentID, &state, &lastTick, &awakened, &slept, &reason); err != nil {
			return nil, err
		}
		// Row corruption tolerance: unknown state becomes AWAKE.
		r.State = store.NormalizeLoopState(store.LoopState(state))
		if lastTick.Valid {
			t := lastTick.Time
			r.LastTickAt = &t
		}
		if awakened.Valid {
			t := awakened.Time
			r.AwakenedAt = &t
		}
		if slept.Valid {
			t := slept.Time
			r.SleptAt = &t
		}
		r.SleepReason = reason.String
		out = append(out, &r)
	}
	return out, rows.Err()
}

type bridgeStore struct {
	db *sql.DB
}

func (s *bridgeStore) Insert(ctx context.Context, b *store.BridgeMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridges (bridge_id, channel_id, platform, external_channel_id, webhook_url, active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.BridgeID, b.ChannelID, b.Platform, b.ExternalChannelID, b.WebhookURL, boolToInt(b.Active),
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *bridgeStore) Update(ctx context.Context, b *store.BridgeMapping) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bridges SET channel_id = ?, platform = ?, external_channel_id = ?, webhook_url = ?, active = ?
		 WHERE bridge_id = ?`,
		b.ChannelID, b.Platform, b.ExternalChannelID, b.WebhookURL, boolToInt(b.Active), b.BridgeID,
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

const bridgeSelect = `SELECT bridge_id, channel_id, platform, external_channel_id, webhook_url, active FROM bridges`

func (s *bridgeStore) Get(ctx context.Context, bridgeID string) (*store.BridgeMapping, error) {
	rows, err := s.db.QueryContext(ctx, bridgeSelect+` WHERE bridge_id = ?`, bridgeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bridges, err := scanBridgeRows(rows)
	if err != nil {
		return nil, err
	}
	if len(bridges) == 0 {
		return nil, store.ErrNotFound
	}
	return bridges[0], nil
}

func (s *bridgeStore) GetByChannel(ctx context.Context, channelID string) ([]*store.BridgeMapping, error) {
	rows, err := s.db.QueryContext(ctx, bridgeSelect+` WHERE channel_id = ? ORDER BY bridge_id ASC`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBridgeRows(rows)
}

func (s *bridgeStore) List(ctx context.Context) ([]*store.BridgeMapping, error) {
	rows, err := s.db.QueryContext(ctx, bridgeSelect+` ORDER BY bridge_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBridgeRows(rows)
}

func (s *bridgeStore) Delete(ctx context.Context, bridgeID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bridges WHERE bridge_id = ?`, bridgeID)
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

func scanBridgeRows(rows *sql.Rows) ([]*store.BridgeMapping, error) {
	var out []*store.BridgeMapping
	for rows.Next() {
		var b store.BridgeMapping
		var webhook sql.NullString
		var active int
		if err := rows.Scan(&b.BridgeID, &b.ChannelID, &b.Platform, &b.ExternalChannelID, &webhook, &active); err != nil {
			return nil, err
		}
		b.WebhookURL = webhook.String
		b.Active = active != 0
		out = append(out, &b)
	}
	return out, rows.Err()
}
