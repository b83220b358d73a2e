package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed lookup misses.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides on a primary key.
var ErrDuplicate = errors.New("already exists")

// HomeFilter constrains List/Count. Nil fields do not constrain.
type HomeFilter struct {
	AgentID *string
	NodeID  *string
	State   *HomeState
	Limit   int
}

// TransitionFilter constrains transition listings. Since means
// timestamp >= Since.
type TransitionFilter struct {
	HomeID *string
	Since  *time.Time
	Limit  int
}

// AuditFilter constrains audit queries (newest first).
type AuditFilter struct {
	AgentID *string
	HomeID  *string
	Action  *string
	Level   *AuditLevel
	Since   *time.Time
	Limit   int
}

// TaskFilter constrains task listings (newest first by createdAt).
type TaskFilter struct {
	FromAgentID *string
	ToAgentID   *string
	State       *TaskState
	ContextID   *string
	Since       *time.Time
	Limit       int
}

// HomeStore persists agent homes. Returned records are copies; mutating
// them does not affect the store.
type HomeStore interface {
	Insert(ctx context.Context, h *Home) error
	Update(ctx context.Context, h *Home) error
	Get(ctx context.Context, homeID string) (*Home, error)
	List(ctx context.Context, f HomeFilter) ([]*Home, error)
	Count(ctx context.Context, f HomeFilter) (int, error)
	Delete(ctx context.Context, homeID string) error
}

// TransitionStore persists home FSM transitions (append-only, listed ASC).
type TransitionStore interface {
	Append(ctx context.Context, t *HomeTransition) error
	List(ctx context.Context, f TransitionFilter) ([]*HomeTransition, error)
}

// AuditStore persists audit entries (append-only, queried DESC).
type AuditStore interface {
	Append(ctx context.Context, e *AuditEntry) error
	Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error)
	CountByLevel(ctx context.Context, agentID *string) (map[AuditLevel]int, error)
}

// TaskStore persists A2A task records.
type TaskStore interface {
	Insert(ctx context.Context, t *TaskRecord) error
	Update(ctx context.Context, t *TaskRecord) error
	Get(ctx context.Context, taskID string) (*TaskRecord, error)
	List(ctx context.Context, f TaskFilter) ([]*TaskRecord, error)
	Count(ctx context.Context, f TaskFilter) (int, error)
}

// ChannelStore persists discussion channels.
type ChannelStore interface {
	Insert(ctx context.Context, c *Channel) error
	Update(ctx context.Context, c *Channel) error
	Get(ctx context.Context, channelID string) (*Channel, error)
	GetByName(ctx context.Context, name string) (*Channel, error)
	List(ctx context.Context, includeArchived bool) ([]*Channel, error)
	Delete(ctx context.Context, channelID string) error
}

// ChannelMessageStore appends and lists per-channel messages. Append
// assigns Seq under the store's single-writer discipline: strictly
// increasing per channel, starting at 1.
type ChannelMessageStore interface {
	Append(ctx context.Context, channelID, agentID, content string) (*ChannelMessage, error)
	List(ctx context.Context, channelID string, sinceSeq int64, limit int) ([]*ChannelMessage, error)
	Count(ctx context.Context, channelID string) (int, error)
}

// AgentLoopStore persists work-loop accounting. Init resets state to the
// requested value (boot-time convergence). SetState stamps SleptAt on
// SLEEP and AwakenedAt (clearing SleptAt) on AWAKE.
type AgentLoopStore interface {
	Init(ctx context.Context, agentID string, state LoopState) (*AgentLoopRecord, error)
	Get(ctx context.Context, agentID string) (*AgentLoopRecord, error)
	SetState(ctx context.Context, agentID string, state LoopState, reason string) (*AgentLoopRecord, error)
	UpdateLastTick(ctx context.Context, agentID string, at time.Time) error
	List(ctx context.Context, states ...LoopState) ([]*AgentLoopRecord, error)
}

// BridgeStore persists external-platform bridge mappings.
type BridgeStore interface {
	Insert(ctx context.Context, b *BridgeMapping) error
	Update(ctx context.Context, b *BridgeMapping) error
	Get(ctx context.Context, bridgeID string) (*BridgeMapping, error)
	GetByChannel(ctx context.Context, channelID string) ([]*BridgeMapping, error)
	List(ctx context.Context) ([]*BridgeMapping, error)
	Delete(ctx context.Context, bridgeID string) error
}

// Stores is the top-level container for one backend's sub-stores.
type Stores struct {
	Homes           HomeStore
	Transitions     TransitionStore
	Audit           AuditStore
	Tasks           TaskStore
	Channels        ChannelStore
	ChannelMessages ChannelMessageStore
	AgentLoop       AgentLoopStore
	Bridges         BridgeStore

	// Migrate is idempotent DDL bootstrap; a no-op for the memory backend.
	Migrate func(ctx context.Context) error
	// Close releases backend resources.
	Close func() error
}
