package sqlite

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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ChannelID, c.Name, c.Topic, c.CreatedBy, string(members), boolToInt(c.Archived), string(ready),
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
		`UPDATE channels SET name = ?, topic = ?, members = ?, archived = ?, archive_ready_members = ?,
		                     archiving_started_at = ?, updated_at = ?
		 WHERE channel_id = ?`,
		c.Name, c.Topic, string(members), boolToInt(c.Archived), string(ready),
		c.ArchivingStartedAt, c.UpdatedAt, c.ChannelID,
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

const channelSelect = `SELECT channel_id, name, topic, created_by, members, archived, archive_ready_members,
	archiving_started_at, created_at, updated_at FROM channels`

func (s *channelStore) Get(ctx context.Context, channelID string) (*store.Channel, error) {
	return s.getOne(ctx, channelSelect+` WHERE channel_id = ?`, channelID)
}

func (s *channelStore) GetByName(ctx context.Context, name string) (*store.Channel, error) {
	return s.getOne(ctx, channelSelect+` WHERE name = ? COLLATE NOCASE`, name)
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
		query += ` WHERE archived = 0`
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID)
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

func scanChannelRows(rows *sql.Rows) ([]*store.Channel, error) {
	var channels []*store.Channel
	for rows.Next() {
		var c store.Channel
		var topic, members, ready sql.NullString
		var archived int
		var archivingStarted sql.NullTime
		if err := rows.Scan(&c.ChannelID, &c.Name, &topic, &c.CreatedBy, &members, &archived, &ready,
			&archivingStarted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Topic = topic.String
		c.Archived = archived != 0
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
	// Seq assignment and insert run in one transaction so concurrent
	// appends to the same channel serialize and stay contiguous.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM channel_messages WHERE channel_id = ?`, channelID).Scan(&maxSeq); err != nil {
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
		`INSERT INTO channel_messages (channel_id, seq, agent_id, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
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
		 WHERE channel_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{channelID, sinceSeq}
	if limit > 0 {
		query += ` LIMIT ?`
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
		`SELECT COUNT(*) FROM channel_messages WHERE channel_id = ?`, channelID).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
