package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flocklabs/flock/internal/store"
)

type channelStore struct {
	db *sql.DB
}

func (s *channelStore) Insert(ctx context.Context, c *store.Channel) error {
	members, _ := json.Marshal(c.Members)
	ready, _ := json.Marshal(c.ArchiveReadyMembers)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (channel_id, name, topic, created_by, members, archived, archive_ready_members,
		                       archiving_started_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ChannelID, c.Name, c.Topic, c.CreatedBy, string(members), c.Archived, string(ready),
		c.ArchivingStartedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *channelStore) Update(ctx context.Context, c *store.Channel) error {
	members, _ := json.Marshal(c.Members)
	ready, _ := json.Marshal(c.ArchiveReadyMembers)
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET name = $1, topic = $2, members = $3, archived = $4, archive_ready_members = $5,
		                     archiving_started_at = $6, updated_at = $7
		 WHERE channel_id = $8`,
		c.Name, c.Topic, string(members), c.Archived, string(ready),
		c.ArchivingStartedAt, c.UpdatedAt, c.ChannelID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

const channelSelect = `SELECT channel_id, name, topic, created_by, members, archived, archive_ready_members,
	archiving_started_at, created_at, updated_at FROM channels`

func (s *channelStore) Get(ctx context.Context, channelID string) (*store.Channel, error) {
	return s.getOne(ctx, channelSelect+` WHERE channel_id = $1`, channelID)
}

func (s *channelStore) GetByName(ctx context.Context, name string) (*store.Channel, error) {
	return s.getOne(ctx, channelSelect+` WHERE LOWER(name) = LOWER($1)`, name)
}

func (s *channelStore) getOne(ctx context.Context, query string, arg any) (*store.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	channels, err := scanChannelRows(rows)
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, store.ErrNotFound
	}
	return channels[0], nil
}

func (s *channelStore) List(ctx context.Context, includeArchived bool) ([]*store.Channel, error) {
	query := channelSelect
	if !includeArchived {
		query += ` WHERE archived = FALSE`
	}
	query += ` ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannelRows(rows)
}

func (s *channelStore) Delete(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanChannelRows(rows *sql.Rows) ([]*store.Channel, error) {
	var channels []*store.Channel
	for rows.Next() {
		var c store.Channel
		var topic, members, ready sql.NullString
		var archivingStarted sql.NullTime
		if err := rows.Scan(&c.ChannelID, &c.Name, &topic, &c.CreatedBy, &members, &c.Archived, &ready,
			&archivingStarted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Topic = topic.String
		if members.Valid && members.String != "" && members.String != "null" {
			_ = json.Unmarshal([]byte(members.String), &c.Members)
		}
		if ready.Valid && ready.String != "" && ready.String != "null" {
			_ = json.Unmarshal([]byte(ready.String), &c.ArchiveReadyMembers)
		}
		if archivingStarted.Valid {
			t := archivingStarted.Time
			c.ArchivingStartedAt = &t
		}
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

type channelMessageStore struct {
	db *sql.DB
}

func (s *channelMessageStore) Append(ctx context.Context, channelID, agentID, content string) (*store.ChannelMessage, error) {
	// Serializes concurrent appends per channel via the composite PK;
	// retrying on conflict is left to callers, one writer per channel
	// is the operating assumption.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM channel_messages WHERE channel_id = $1`, channelID).Scan(&maxSeq); err != nil {
		return nil, err
	}
	msg := &store.ChannelMessage{
		ChannelID: channelID,
		Seq:       maxSeq.Int64 + 1,
		AgentID:   agentID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_messages (channel_id, seq, agent_id, content, timestamp) VALUES ($1, $2, $3, $4, $5)`,
		msg.ChannelID, msg.Seq, msg.AgentID, msg.Content, msg.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("append channel message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *channelMessageStore) List(ctx context.Context, channelID string, sinceSeq int64, limit int) ([]*store.ChannelMessage, error) {
	query := `SELECT channel_id, seq, agent_id, content, timestamp FROM channel_messages
		 WHERE channel_id = $1 AND seq > $2 ORDER BY seq ASC`
	args := []any{channelID, sinceSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.ChannelMessage
	for rows.Next() {
		var m store.ChannelMessage
		if err := rows.Scan(&m.ChannelID, &m.Seq, &m.AgentID, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *channelMessageStore) Count(ctx context.Context, channelID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channel_messages WHERE channel_id = $1`, channelID).Scan(&n)
	return n, err
}
