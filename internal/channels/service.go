// Package channels is the group-discussion primitive: named channels
// with explicit membership, server-assigned message sequence numbers,
// and cooperative archival.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flocklabs/flock/internal/store"
)

var (
	ErrNotMember  = errors.New("agent is not a channel member")
	ErrArchived   = errors.New("channel is archived")
	ErrBadName    = errors.New("invalid channel name")
	ErrNameInUse  = errors.New("channel name already in use")
	ErrSelfRemove = errors.New("members can only remove themselves")
)

// Service owns channel lifecycle and message append. Membership rules:
// anyone may create, members may post and add members, a member may only
// remove itself, and archival completes when every member is ready.
type Service struct {
	channels store.ChannelStore
	messages store.ChannelMessageStore
	logger   *slog.Logger
}

func NewService(channels store.ChannelStore, messages store.ChannelMessageStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		channels: channels,
		messages: messages,
		logger:   logger.With("component", "channels"),
	}
}

// Create makes a channel with the creator as first member. Names are
// case-insensitive unique.
func (s *Service) Create(ctx context.Context, name, topic, createdBy string, members []string) (*store.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrBadName
	}
	now := time.Now().UTC()
	c := &store.Channel{
		ChannelID: uuid.NewString(),
		Name:      name,
		Topic:     topic,
		CreatedBy: createdBy,
		Members:   dedupe(append([]string{createdBy}, members...)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.channels.Insert(ctx, c); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrNameInUse
		}
		return nil, err
	}
	s.logger.Info("channel created", "channel", name, "created_by", createdBy)
	return c, nil
}

// Get resolves by id first, then by name.
func (s *Service) Get(ctx context.Context, ref string) (*store.Channel, error) {
	c, err := s.channels.Get(ctx, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.channels.GetByName(ctx, ref)
}

// List returns channels, optionally including archived ones.
func (s *Service) List(ctx context.Context, includeArchived bool) ([]*store.Channel, error) {
	return s.channels.List(ctx, includeArchived)
}

// Post appends a message. Only members post; archived channels reject.
func (s *Service) Post(ctx context.Context, ref, agentID, content string) (*store.ChannelMessage, error) {
	c, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c.Archived {
		return nil, ErrArchived
	}
	if !slices.Contains(c.Members, agentID) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotMember, agentID, c.Name)
	}
	return s.messages.Append(ctx, c.ChannelID, agentID, content)
}

// History returns messages after sinceSeq, oldest first.
func (s *Service) History(ctx context.Context, ref string, sinceSeq int64, limit int) ([]*store.ChannelMessage, error) {
	c, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.messages.List(ctx, c.ChannelID, sinceSeq, limit)
}

// AddMember lets an existing member bring in another agent. Adding an
// existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, ref, byAgent, newAgent string) (*store.Channel, error) {
	c, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c.Archived {
		return nil, ErrArchived
	}
	if !slices.Contains(c.Members, byAgent) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotMember, byAgent, c.Name)
	}
	if slices.Contains(c.Members, newAgent) {
		return c, nil
	}
	c.Members = append(c.Members, newAgent)
	c.UpdatedAt = time.Now().UTC()
	if err := s.channels.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Leave removes the calling agent from the channel. Nobody removes
// anyone else.
func (s *Service) Leave(ctx context.Context, ref, agentID string) (*store.Channel, error) {
	c, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	idx := slices.Index(c.Members, agentID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotMember, agentID, c.Name)
	}
	c.Members = slices.Delete(c.Members, idx, idx+1)
	c.ArchiveReadyMembers = removeString(c.ArchiveReadyMembers, agentID)
	c.UpdatedAt = time.Now().UTC()
	if err := s.channels.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// MarkArchiveReady records one member's consent to archive. The channel
// archives once every current member has consented.
func (s *Service) MarkArchiveReady(ctx context.Context, ref, agentID string) (*store.Channel, error) {
	c, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c.Archived {
		return c, nil
	}
	if !slices.Contains(c.Members, agentID) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotMember, agentID, c.Name)
	}
	now := time.Now().UTC()
	if !slices.Contains(c.ArchiveReadyMembers, agentID) {
		c.ArchiveReadyMembers = append(c.ArchiveReadyMembers, agentID)
	}
	if c.ArchivingStartedAt == nil {
		c.ArchivingStartedAt = &now
	}
	if allReady(c.Members, c.ArchiveReadyMembers) {
		c.Archived = true
		s.logger.Info("channel archived", "channel", c.Name)
	}
	c.UpdatedAt = now
	if err := s.channels.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func allReady(members, ready []string) bool {
	for _, m := range members {
		if !slices.Contains(ready, m) {
			return false
		}
	}
	return len(members) > 0
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func removeString(in []string, s string) []string {
	idx := slices.Index(in, s)
	if idx < 0 {
		return in
	}
	return slices.Delete(in, idx, idx+1)
}
