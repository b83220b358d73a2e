package migration

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPhaseTransition is returned when a phase update deviates
// from the transition table.
var ErrInvalidPhaseTransition = errors.New("invalid phase transition")

// ErrTicketNotFound is returned for unknown migration ids.
var ErrTicketNotFound = errors.New("migration not found")

// ErrDuplicateMigration is returned when an agent already has a
// non-terminal ticket.
var ErrDuplicateMigration = errors.New("agent already has an active migration")

// TicketFilter constrains List. Nil fields do not constrain.
type TicketFilter struct {
	AgentID *string
	Phase   *Phase
	Active  *bool
}

// TicketUpdate carries optional field changes applied with a phase update.
type TicketUpdate struct {
	OwnershipHolder *Owner
	ReservationID   *string
	Error           *string
}

// TicketStore is the in-memory single-writer-per-ticket record of
// migrations. All reads return deep clones; UpdatePhase performs the FSM
// check and the field update as one atomic operation under the lock.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
}

func NewTicketStore() *TicketStore {
	return &TicketStore{tickets: make(map[string]*Ticket)}
}

// Create inserts a ticket in REQUESTED. A second non-terminal ticket for
// the same agent is rejected.
func (s *TicketStore) Create(agentID string, source, target Endpoint, reason Reason) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.AgentID == agentID && !t.Phase.IsTerminal() {
			return nil, fmt.Errorf("%w: agent %s in %s", ErrDuplicateMigration, agentID, t.Phase)
		}
	}

	now := time.Now().UTC()
	t := &Ticket{
		MigrationID:     uuid.NewString(),
		AgentID:         agentID,
		Source:          source,
		Target:          target,
		Phase:           PhaseRequested,
		OwnershipHolder: OwnerSource,
		Reason:          reason,
		Timestamps:      map[Phase]time.Time{PhaseRequested: now},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.tickets[t.MigrationID] = t
	return cloneTicket(t), nil
}

// Get returns a deep clone of the ticket.
func (s *TicketStore) Get(migrationID string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[migrationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, migrationID)
	}
	return cloneTicket(t), nil
}

// GetByAgent returns the agent's non-terminal ticket, if any.
func (s *TicketStore) GetByAgent(agentID string) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.AgentID == agentID && !t.Phase.IsTerminal() {
			return cloneTicket(t), true
		}
	}
	return nil, false
}

// UpdatePhase validates the FSM edge, stamps timestamps[toPhase], and
// applies the additional updates in the same atomic write. Concurrent
// transitions on one ticket serialize here; only one commits per edge.
func (s *TicketStore) UpdatePhase(migrationID string, toPhase Phase, updates *TicketUpdate) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[migrationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, migrationID)
	}
	if !CanTransition(t.Phase, toPhase) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrInvalidPhaseTransition, t.Phase, toPhase, migrationID)
	}

	now := time.Now().UTC()
	t.Phase = toPhase
	t.Timestamps[toPhase] = now
	t.UpdatedAt = now
	if updates != nil {
		if updates.OwnershipHolder != nil {
			t.OwnershipHolder = *updates.OwnershipHolder
		}
		if updates.ReservationID != nil {
			t.ReservationID = *updates.ReservationID
		}
		if updates.Error != nil {
			t.Error = *updates.Error
		}
	}
	return cloneTicket(t), nil
}

// Update applies field changes without a phase transition.
func (s *TicketStore) Update(migrationID string, updates TicketUpdate) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[migrationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, migrationID)
	}
	if updates.OwnershipHolder != nil {
		t.OwnershipHolder = *updates.OwnershipHolder
	}
	if updates.ReservationID != nil {
		t.ReservationID = *updates.ReservationID
	}
	if updates.Error != nil {
		t.Error = *updates.Error
	}
	t.UpdatedAt = time.Now().UTC()
	return cloneTicket(t), nil
}

// List returns deep clones matching the filter.
func (s *TicketStore) List(f TicketFilter) []*Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Ticket
	for _, t := range s.tickets {
		if f.AgentID != nil && t.AgentID != *f.AgentID {
			continue
		}
		if f.Phase != nil && t.Phase != *f.Phase {
			continue
		}
		if f.Active != nil && *f.Active == t.Phase.IsTerminal() {
			continue
		}
		out = append(out, cloneTicket(t))
	}
	return out
}

// Remove deletes a ticket.
func (s *TicketStore) Remove(migrationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, migrationID)
}
