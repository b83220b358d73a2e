package pg

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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_loop_states (agent_id, state, last_tick_at, awakened_at, slept_at, sleep_reason)
		 VALUES ($1, $2, NULL, $3, $4, '')
		 ON CONFLICT (agent_id) DO UPDATE SET state = EXCLUDED.state,
		   awakened_at = EXCLUDED.awakened_at, slept_at = EXCLUDED.slept_at, sleep_reason = ''`,
		agentID, string(state), awakened, slept,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

const loopSelect = `SELECT agent_id, state, last_tick_at, awakened_at, slept_at, sleep_reason FROM agent_loop_states`

func (s *agentLoopStore) Get(ctx context.Context, agentID string) (*store.AgentLoopRecord, error) {
	rows, err := s.db.QueryContext(ctx, loopSelect+` WHERE agent_id = $1`, agentID)
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
			`UPDATE agent_loop_states SET state = $1, slept_at = $2, sleep_reason = $3 WHERE agent_id = $4`,
			string(state), now, reason, agentID)
	case store.LoopAwake:
		res, err = s.db.ExecContext(ctx,
			`UPDATE agent_loop_states SET state = $1, slept_at = NULL, sleep_reason = '', awakened_at = $2 WHERE agent_id = $3`,
			string(state), now, agentID)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE agent_loop_states SET state = $1 WHERE agent_id = $2`,
			string(state), agentID)
	}
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.Get(ctx, agentID)
}

func (s *agentLoopStore) UpdateLastTick(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_loop_states SET last_tick_at = $1 WHERE agent_id = $2`, at, agentID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *agentLoopStore) List(ctx context.Context, states ...store.LoopState) ([]*store.AgentLoopRecord, error) {
	query := loopSelect
	var args []any
	if len(states) > 0 {
		vals := make([]string, len(states))
		for i, st := range states {
			vals[i] = string(st)
		}
		query += ` WHERE state = ANY($1)`
		args = append(args, vals)
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
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.BridgeID, b.ChannelID, b.Platform, b.ExternalChannelID, b.WebhookURL, b.Active,
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *bridgeStore) Update(ctx context.Context, b *store.BridgeMapping) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bridges SET channel_id = $1, platform = $2, external_channel_id = $3, webhook_url = $4, active = $5
		 WHERE bridge_id = $6`,
		b.ChannelID, b.Platform, b.ExternalChannelID, b.WebhookURL, b.Active, b.BridgeID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const bridgeSelect = `SELECT bridge_id, channel_id, platform, external_channel_id, webhook_url, active FROM bridges`

func (s *bridgeStore) Get(ctx context.Context, bridgeID string) (*store.BridgeMapping, error) {
	rows, err := s.db.QueryContext(ctx, bridgeSelect+` WHERE bridge_id = $1`, bridgeID)
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
	rows, err := s.db.QueryContext(ctx, bridgeSelect+` WHERE channel_id = $1 ORDER BY bridge_id ASC`, channelID)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM bridges WHERE bridge_id = $1`, bridgeID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanBridgeRows(rows *sql.Rows) ([]*store.BridgeMapping, error) {
	var out []*store.BridgeMapping
	for rows.Next() {
		var b store.BridgeMapping
		var webhook sql.NullString
		if err := rows.Scan(&b.BridgeID, &b.ChannelID, &b.Platform, &b.ExternalChannelID, &webhook, &b.Active); err != nil {
			return nil, err
		}
		b.WebhookURL = webhook.String
		out = append(out, &b)
	}
	return out, rows.Err()
}
