package migration

import (
	"errors"
	"testing"
)

func testEndpoints() (Endpoint, Endpoint) {
	return Endpoint{NodeID: "node-a", HomeID: "ada@node-a", Endpoint: "http://a"},
		Endpoint{NodeID: "node-b", HomeID: "ada@node-b", Endpoint: "http://b"}
}

func TestPhaseCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		ok       bool
	}{
		{PhaseRequested, PhaseAuthorized, true},
		{PhaseAuthorized, PhaseFreezing, true},
		{PhaseFreezing, PhaseFrozen, true},
		{PhaseFrozen, PhaseSnapshotting, true},
		{PhaseSnapshotting, PhaseTransferring, true},
		{PhaseTransferring, PhaseVerifying, true},
		{PhaseVerifying, PhaseRehydrating, true},
		{PhaseRehydrating, PhaseFinalizing, true},
		{PhaseFinalizing, PhaseCompleted, true},
		{PhaseFrozen, PhaseRollingBack, true},
		{PhaseFinalizing, PhaseRollingBack, true},
		{PhaseRollingBack, PhaseAborted, true},
		{PhaseRollingBack, PhaseFailed, true},
		{PhaseRequested, PhaseFailed, true},
		{PhaseRequested, PhaseAborted, true},
		{PhaseFreezing, PhaseFailed, true},

		{PhaseRequested, PhaseFreezing, false},
		{PhaseRequested, PhaseRollingBack, false},
		{PhaseAuthorized, PhaseRollingBack, false},
		{PhaseFreezing, PhaseRollingBack, false},
		{PhaseFrozen, PhaseVerifying, false},
		{PhaseCompleted, PhaseRollingBack, false},
		{PhaseAborted, PhaseRequested, false},
		{PhaseFailed, PhaseRollingBack, false},
		{PhaseVerifying, PhaseCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestNextPhase(t *testing.T) {
	want := map[Phase]Phase{
		PhaseRequested:    PhaseAuthorized,
		PhaseAuthorized:   PhaseFreezing,
		PhaseFreezing:     PhaseFrozen,
		PhaseFrozen:       PhaseSnapshotting,
		PhaseSnapshotting: PhaseTransferring,
		PhaseTransferring: PhaseVerifying,
		PhaseVerifying:    PhaseRehydrating,
		PhaseRehydrating:  PhaseFinalizing,
		PhaseFinalizing:   PhaseCompleted,
	}
	for from, to := range want {
		got, ok := NextPhase(from)
		if !ok || got != to {
			t.Errorf("NextPhase(%s) = %s, %v; want %s", from, got, ok, to)
		}
	}
	if _, ok := NextPhase(PhaseCompleted); ok {
		t.Error("NextPhase(COMPLETED) should not exist")
	}
	if _, ok := NextPhase(PhaseRollingBack); ok {
		t.Error("NextPhase(ROLLING_BACK) should not exist")
	}
}

func TestTicketStore_DuplicateActiveRejected(t *testing.T) {
	s := NewTicketStore()
	src, dst := testEndpoints()

	first, err := s.Create("ada", src, dst, ReasonAgentRequest)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("ada", src, dst, ReasonAgentRequest); !errors.Is(err, ErrDuplicateMigration) {
		t.Fatalf("second create = %v, want ErrDuplicateMigration", err)
	}

	// A terminal ticket frees the agent for a new migration.
	if _, err := s.UpdatePhase(first.MigrationID, PhaseAborted, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("ada", src, dst, ReasonNodeRetiring); err != nil {
		t.Fatalf("create after terminal = %v", err)
	}
}

func TestTicketStore_UpdatePhaseValidatesEdge(t *testing.T) {
	s := NewTicketStore()
	src, dst := testEndpoints()
	tk, _ := s.Create("ada", src, dst, ReasonAgentRequest)

	if _, err := s.UpdatePhase(tk.MigrationID, PhaseFrozen, nil); !errors.Is(err, ErrInvalidPhaseTransition) {
		t.Fatalf("REQUESTED->FROZEN = %v, want ErrInvalidPhaseTransition", err)
	}
	got, _ := s.Get(tk.MigrationID)
	if got.Phase != PhaseRequested {
		t.Errorf("phase after rejected update = %s", got.Phase)
	}

	got, err := s.UpdatePhase(tk.MigrationID, PhaseAuthorized, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != PhaseAuthorized {
		t.Errorf("phase = %s", got.Phase)
	}
	if _, ok := got.Timestamps[PhaseAuthorized]; !ok {
		t.Error("timestamp for AUTHORIZED not stamped")
	}
}

// Ownership must flip in the same store write as the VERIFYING ->
// REHYDRATING edge.
func TestTicketStore_OwnershipFlipAtomic(t *testing.T) {
	s := NewTicketStore()
	src, dst := testEndpoints()
	tk, _ := s.Create("ada", src, dst, ReasonAgentRequest)

	for _, p := range []Phase{PhaseAuthorized, PhaseFreezing, PhaseFrozen, PhaseSnapshotting, PhaseTransferring, PhaseVerifying} {
		if _, err := s.UpdatePhase(tk.MigrationID, p, nil); err != nil {
			t.Fatalf("advance to %s: %v", p, err)
		}
	}
	got, _ := s.Get(tk.MigrationID)
	if got.OwnershipHolder != OwnerSource {
		t.Fatalf("owner before flip = %s", got.OwnershipHolder)
	}

	target := OwnerTarget
	got, err := s.UpdatePhase(tk.MigrationID, PhaseRehydrating, &TicketUpdate{OwnershipHolder: &target})
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != PhaseRehydrating || got.OwnershipHolder != OwnerTarget {
		t.Errorf("after flip: phase=%s owner=%s", got.Phase, got.OwnershipHolder)
	}
}

func TestTicketStore_ListFilters(t *testing.T) {
	s := NewTicketStore()
	src, dst := testEndpoints()

	a, _ := s.Create("ada", src, dst, ReasonAgentRequest)
	b, _ := s.Create("bob", src, dst, ReasonAgentRequest)
	s.UpdatePhase(b.MigrationID, PhaseFailed, nil)

	active := true
	got := s.List(TicketFilter{Active: &active})
	if len(got) != 1 || got[0].MigrationID != a.MigrationID {
		t.Errorf("active list = %d tickets", len(got))
	}

	agent := "bob"
	got = s.List(TicketFilter{AgentID: &agent})
	if len(got) != 1 || got[0].Phase != PhaseFailed {
		t.Errorf("agent list = %v", got)
	}
}

func TestTicketStore_CloneIsolation(t *testing.T) {
	s := NewTicketStore()
	src, dst := testEndpoints()
	tk, _ := s.Create("ada", src, dst, ReasonAgentRequest)

	tk.Phase = PhaseCompleted
	tk.Timestamps[PhaseCompleted] = tk.CreatedAt

	got, _ := s.Get(tk.MigrationID)
	if got.Phase != PhaseRequested {
		t.Error("mutating a returned clone changed the store")
	}
	if _, ok := got.Timestamps[PhaseCompleted]; ok {
		t.Error("timestamp map is shared with the caller")
	}
}
