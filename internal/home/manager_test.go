package home

import (
	"context"
	"errors"
	"testing"

	"github.com/flocklabs/flock/internal/store"
)

func newManager() (*Manager, *store.Stores) {
	s := store.NewMemoryStores()
	return NewManager(s.Homes, s.Transitions, nil), s
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to store.HomeState
		ok       bool
	}{
		{store.HomeUnassigned, store.HomeProvisioning, true},
		{store.HomeProvisioning, store.HomeIdle, true},
		{store.HomeIdle, store.HomeLeased, true},
		{store.HomeLeased, store.HomeActive, true},
		{store.HomeActive, store.HomeLeased, true},
		{store.HomeActive, store.HomeFrozen, true},
		{store.HomeActive, store.HomeRetired, true},
		{store.HomeFrozen, store.HomeMigrating, true},
		{store.HomeFrozen, store.HomeLeased, true},
		{store.HomeFrozen, store.HomeRetired, true},
		{store.HomeMigrating, store.HomeRetired, true},
		{store.HomeMigrating, store.HomeLeased, true},

		{store.HomeUnassigned, store.HomeIdle, false},
		{store.HomeIdle, store.HomeActive, false},
		{store.HomeIdle, store.HomeFrozen, false},
		{store.HomeLeased, store.HomeMigrating, false},
		{store.HomeRetired, store.HomeIdle, false},
		{store.HomeRetired, store.HomeLeased, false},
		{store.HomeMigrating, store.HomeFrozen, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestManager_TransitionRecordsHistory(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	h, err := m.Create(ctx, "ada", "node-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.State != store.HomeUnassigned {
		t.Fatalf("created state = %s", h.State)
	}

	path := []store.HomeState{
		store.HomeProvisioning, store.HomeIdle, store.HomeLeased,
		store.HomeActive, store.HomeFrozen, store.HomeMigrating, store.HomeRetired,
	}
	for _, to := range path {
		if _, err := m.Transition(ctx, h.HomeID, to, "test", "system"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	hist, err := m.History(ctx, h.HomeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != len(path) {
		t.Fatalf("history length = %d, want %d", len(hist), len(path))
	}
	// Every transition is recorded in order, each edge's from matching
	// the previous edge's to.
	prev := store.HomeUnassigned
	for i, tr := range hist {
		if tr.FromState != prev {
			t.Errorf("edge %d from = %s, want %s", i, tr.FromState, prev)
		}
		if tr.ToState != path[i] {
			t.Errorf("edge %d to = %s, want %s", i, tr.ToState, path[i])
		}
		prev = tr.ToState
	}
}

func TestManager_IllegalTransitionRejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	h, _ := m.Create(ctx, "ada", "node-a", nil)
	if _, err := m.Transition(ctx, h.HomeID, store.HomeActive, "test", "system"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("UNASSIGNED->ACTIVE = %v, want ErrInvalidTransition", err)
	}

	// State and history untouched after a rejected edge.
	got, _ := m.Get(ctx, h.HomeID)
	if got.State != store.HomeUnassigned {
		t.Errorf("state after rejection = %s", got.State)
	}
	hist, _ := m.History(ctx, h.HomeID)
	if len(hist) != 0 {
		t.Errorf("history after rejection = %d entries", len(hist))
	}
}

func TestManager_RetiredIsTerminal(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()

	h, _ := m.Create(ctx, "ada", "node-a", nil)
	for _, to := range []store.HomeState{store.HomeProvisioning, store.HomeIdle, store.HomeLeased, store.HomeActive, store.HomeRetired} {
		if _, err := m.Transition(ctx, h.HomeID, to, "test", "system"); err != nil {
			t.Fatal(err)
		}
	}
	for _, to := range []store.HomeState{store.HomeIdle, store.HomeLeased, store.HomeActive, store.HomeFrozen, store.HomeUnassigned} {
		if _, err := m.Transition(ctx, h.HomeID, to, "test", "system"); err == nil {
			t.Errorf("RETIRED->%s allowed", to)
		}
	}
}
