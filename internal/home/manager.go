// Package home manages the per-agent lifecycle record and its state
// machine. Every transition is validated against the FSM and recorded
// as a HomeTransition in the same call.
package home

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flocklabs/flock/internal/store"
)

// ErrInvalidTransition is returned when a requested FSM edge does not exist.
var ErrInvalidTransition = errors.New("invalid home transition")

// transitions is the complete edge set of the home FSM. RETIRED is terminal.
var transitions = map[store.HomeState][]store.HomeState{
	store.HomeUnassigned:   {store.HomeProvisioning},
	store.HomeProvisioning: {store.HomeIdle},
	store.HomeIdle:         {store.HomeLeased},
	store.HomeLeased:       {store.HomeActive},
	store.HomeActive:       {store.HomeLeased, store.HomeFrozen, store.HomeRetired},
	store.HomeFrozen:       {store.HomeMigrating, store.HomeLeased, store.HomeRetired},
	store.HomeMigrating:    {store.HomeRetired, store.HomeLeased},
	store.HomeRetired:      {},
}

// CanTransition reports whether the FSM allows from -> to.
func CanTransition(from, to store.HomeState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Manager owns all home mutations. Transitions on one home serialize
// under the manager's lock so the transition log stays totally ordered.
type Manager struct {
	homes       store.HomeStore
	transitions store.TransitionStore
	logger      *slog.Logger

	mu sync.Mutex
}

func NewManager(homes store.HomeStore, trans store.TransitionStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{homes: homes, transitions: trans, logger: logger.With("component", "home")}
}

// Create inserts a home in UNASSIGNED for the (agentId, nodeId) pair.
func (m *Manager) Create(ctx context.Context, agentID, nodeID string, metadata map[string]string) (*store.Home, error) {
	now := time.Now().UTC()
	h := &store.Home{
		HomeID:    store.HomeID(agentID, nodeID),
		AgentID:   agentID,
		NodeID:    nodeID,
		State:     store.HomeUnassigned,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.homes.Insert(ctx, h); err != nil {
		return nil, fmt.Errorf("create home %s: %w", h.HomeID, err)
	}
	m.logger.Debug("home created", "home_id", h.HomeID)
	return h, nil
}

// Get returns the home or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, homeID string) (*store.Home, error) {
	return m.homes.Get(ctx, homeID)
}

// List proxies the store filter.
func (m *Manager) List(ctx context.Context, f store.HomeFilter) ([]*store.Home, error) {
	return m.homes.List(ctx, f)
}

// Transition validates the FSM edge, writes the home update, and appends
// a HomeTransition record. Illegal edges fail with ErrInvalidTransition.
func (m *Manager) Transition(ctx context.Context, homeID string, to store.HomeState, reason, triggeredBy string) (*store.Home, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.homes.Get(ctx, homeID)
	if err != nil {
		return nil, err
	}
	from := h.State
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, from, to, homeID)
	}

	now := time.Now().UTC()
	h.State = to
	h.UpdatedAt = now
	if err := m.homes.Update(ctx, h); err != nil {
		return nil, fmt.Errorf("transition home %s: %w", homeID, err)
	}
	if err := m.transitions.Append(ctx, &store.HomeTransition{
		HomeID:      homeID,
		FromState:   from,
		ToState:     to,
		Reason:      reason,
		TriggeredBy: triggeredBy,
		Timestamp:   now,
	}); err != nil {
		return nil, fmt.Errorf("record transition %s: %w", homeID, err)
	}
	m.logger.Info("home transition", "home_id", homeID, "from", from, "to", to, "reason", reason)
	return h, nil
}

// SetLease stamps a lease expiry without changing state.
func (m *Manager) SetLease(ctx context.Context, homeID string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.homes.Get(ctx, homeID)
	if err != nil {
		return err
	}
	h.LeaseExpiresAt = &expires
	h.UpdatedAt = time.Now().UTC()
	return m.homes.Update(ctx, h)
}

// History returns the transition log for one home, oldest first.
func (m *Manager) History(ctx context.Context, homeID string) ([]*store.HomeTransition, error) {
	return m.transitions.List(ctx, store.TransitionFilter{HomeID: &homeID})
}

// Teardown removes a home record. Explicit only; nothing deletes homes
// implicitly.
func (m *Manager) Teardown(ctx context.Context, homeID string) error {
	return m.homes.Delete(ctx, homeID)
}
