package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newHome(agentID, nodeID string, state HomeState, createdAt time.Time) *Home {
	return &Home{
		HomeID:    HomeID(agentID, nodeID),
		AgentID:   agentID,
		NodeID:    nodeID,
		State:     state,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestHomeStore_InsertGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()

	h := newHome("ada", "node-a", HomeIdle, time.Now().UTC())
	if err := s.Homes.Insert(ctx, h); err != nil {
		t.Fatal(err)
	}
	if err := s.Homes.Insert(ctx, h); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert = %v, want ErrDuplicate", err)
	}

	got, err := s.Homes.Get(ctx, "ada@node-a")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != HomeIdle {
		t.Errorf("state = %s, want IDLE", got.State)
	}

	got.State = HomeLeased
	if err := s.Homes.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	got2, _ := s.Homes.Get(ctx, "ada@node-a")
	if got2.State != HomeLeased {
		t.Errorf("state after update = %s, want LEASED", got2.State)
	}

	if _, err := s.Homes.Get(ctx, "nobody@node-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing = %v, want ErrNotFound", err)
	}
	if err := s.Homes.Update(ctx, newHome("nobody", "node-a", HomeIdle, time.Now())); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing = %v, want ErrNotFound", err)
	}
}

func TestHomeStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()
	base := time.Now().UTC()

	seed := []*Home{
		newHome("ada", "node-a", HomeIdle, base),
		newHome("bob", "node-a", HomeLeased, base.Add(time.Second)),
		newHome("ada", "node-b", HomeFrozen, base.Add(2*time.Second)),
	}
	for _, h := range seed {
		if err := s.Homes.Insert(ctx, h); err != nil {
			t.Fatal(err)
		}
	}

	agent := "ada"
	node := "node-a"
	frozen := HomeFrozen

	tests := []struct {
		name   string
		filter HomeFilter
		want   int
	}{
		{"no filter", HomeFilter{}, 3},
		{"by agent", HomeFilter{AgentID: &agent}, 2},
		{"by node", HomeFilter{NodeID: &node}, 2},
		{"by state", HomeFilter{State: &frozen}, 1},
		{"agent and node", HomeFilter{AgentID: &agent, NodeID: &node}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Homes.List(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d homes, want %d", len(got), tt.want)
			}
			n, err := s.Homes.Count(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if n != tt.want {
				t.Errorf("count = %d, want %d", n, tt.want)
			}
		})
	}

	// ASC by creation time.
	all, _ := s.Homes.List(ctx, HomeFilter{})
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Errorf("list not ascending at %d", i)
		}
	}
}

func TestTransitionStore_AppendListAscending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()
	homeID := "ada@node-a"
	base := time.Now().UTC()

	edges := []struct {
		from, to HomeState
	}{
		{HomeUnassigned, HomeProvisioning},
		{HomeProvisioning, HomeIdle},
		{HomeIdle, HomeLeased},
	}
	for i, e := range edges {
		err := s.Transitions.Append(ctx, &HomeTransition{
			HomeID:    homeID,
			FromState: e.from,
			ToState:   e.to,
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Transitions.List(ctx, TransitionFilter{HomeID: &homeID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d transitions, want 3", len(got))
	}
	for i, e := range edges {
		if got[i].FromState != e.from || got[i].ToState != e.to {
			t.Errorf("transition %d = %s->%s, want %s->%s", i, got[i].FromState, got[i].ToState, e.from, e.to)
		}
	}
}

func TestAuditStore_QueryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()
	base := time.Now().UTC()

	levels := []AuditLevel{AuditGreen, AuditYellow, AuditRed, AuditGreen}
	for i, lv := range levels {
		err := s.Audit.Append(ctx, &AuditEntry{
			ID:        string(rune('a' + i)),
			AgentID:   "ada",
			Action:    "shell",
			Level:     lv,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Audit.Query(ctx, AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d entries, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("query not newest-first at %d", i)
		}
	}

	got, _ = s.Audit.Query(ctx, AuditFilter{Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limited query = %d entries, want 2", len(got))
	}

	red := AuditRed
	got, _ = s.Audit.Query(ctx, AuditFilter{Level: &red})
	if len(got) != 1 {
		t.Fatalf("level filter = %d entries, want 1", len(got))
	}

	counts, err := s.Audit.CountByLevel(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if counts[AuditGreen] != 2 || counts[AuditYellow] != 1 || counts[AuditRed] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestChannelStore_NameUniqueCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()

	c := &Channel{ChannelID: "c1", Name: "planning", Members: []string{"ada"}, CreatedAt: time.Now().UTC()}
	if err := s.Channels.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}
	dup := &Channel{ChannelID: "c2", Name: "Planning", CreatedAt: time.Now().UTC()}
	if err := s.Channels.Insert(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("case-insensitive dup = %v, want ErrDuplicate", err)
	}

	got, err := s.Channels.GetByName(ctx, "PLANNING")
	if err != nil {
		t.Fatal(err)
	}
	if got.ChannelID != "c1" {
		t.Errorf("GetByName = %s, want c1", got.ChannelID)
	}
}

func TestChannelStore_ListExcludesArchived(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()

	s.Channels.Insert(ctx, &Channel{ChannelID: "c1", Name: "open", CreatedAt: time.Now().UTC()})
	s.Channels.Insert(ctx, &Channel{ChannelID: "c2", Name: "done", Archived: true, CreatedAt: time.Now().UTC()})

	active, _ := s.Channels.List(ctx, false)
	if len(active) != 1 || active[0].ChannelID != "c1" {
		t.Errorf("active list = %v", active)
	}
	all, _ := s.Channels.List(ctx, true)
	if len(all) != 2 {
		t.Errorf("full list = %d channels, want 2", len(all))
	}
}

// Seq must be contiguous from 1 within a channel, independent across
// channels.
func TestChannelMessages_SeqContiguous(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()

	for i := 0; i < 5; i++ {
		msg, err := s.ChannelMessages.Append(ctx, "c1", "ada", "hello")
		if err != nil {
			t.Fatal(err)
		}
		if msg.Seq != int64(i+1) {
			t.Fatalf("seq = %d, want %d", msg.Seq, i+1)
		}
	}
	other, _ := s.ChannelMessages.Append(ctx, "c2", "bob", "hi")
	if other.Seq != 1 {
		t.Errorf("other channel seq = %d, want 1", other.Seq)
	}

	msgs, err := s.ChannelMessages.List(ctx, "c1", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Seq != 3 {
		t.Errorf("sinceSeq=2 gave %d msgs starting at %d", len(msgs), msgs[0].Seq)
	}

	n, _ := s.ChannelMessages.Count(ctx, "c1")
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestAgentLoopStore_StateTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()

	rec, err := s.AgentLoop.Init(ctx, "ada", LoopAwake)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != LoopAwake || rec.AwakenedAt == nil {
		t.Fatalf("init = %+v", rec)
	}

	rec, err = s.AgentLoop.SetState(ctx, "ada", LoopSleep, "vacation")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != LoopSleep || rec.SleptAt == nil || rec.SleepReason != "vacation" {
		t.Fatalf("sleep = %+v", rec)
	}

	rec, _ = s.AgentLoop.SetState(ctx, "ada", LoopAwake, "")
	if rec.SleptAt != nil || rec.SleepReason != "" {
		t.Fatalf("wake did not clear sleep fields: %+v", rec)
	}

	// Unknown state normalizes to AWAKE.
	rec, _ = s.AgentLoop.Init(ctx, "bob", LoopState("bogus"))
	if rec.State != LoopAwake {
		t.Errorf("bogus state = %s, want AWAKE", rec.State)
	}

	s.AgentLoop.Init(ctx, "eve", LoopReactive)
	awake, err := s.AgentLoop.List(ctx, LoopAwake)
	if err != nil {
		t.Fatal(err)
	}
	if len(awake) != 2 {
		t.Errorf("awake list = %d, want 2", len(awake))
	}
}

func TestTaskStore_ListDescending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		err := s.Tasks.Insert(ctx, &TaskRecord{
			TaskID:    string(rune('a' + i)),
			ToAgentID: "ada",
			State:     TaskSubmitted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Tasks.List(ctx, TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d tasks, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.After(got[i-1].CreatedAt) {
			t.Errorf("tasks not newest-first at %d", i)
		}
	}
}

func TestNormalizeTaskState(t *testing.T) {
	if got := NormalizeTaskState("completed"); got != TaskCompleted {
		t.Errorf("completed normalized to %s", got)
	}
	if got := NormalizeTaskState("garbage"); got != TaskSubmitted {
		t.Errorf("garbage normalized to %s, want submitted", got)
	}
}

func TestBridgeStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStores()

	b := &BridgeMapping{BridgeID: "b1", ChannelID: "c1", Platform: "slack", ExternalChannelID: "C123", Active: true}
	if err := s.Bridges.Insert(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := s.Bridges.Insert(ctx, b); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("dup insert = %v", err)
	}

	byChannel, _ := s.Bridges.GetByChannel(ctx, "c1")
	if len(byChannel) != 1 {
		t.Fatalf("byChannel = %d, want 1", len(byChannel))
	}

	b.Active = false
	if err := s.Bridges.Update(ctx, b); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Bridges.Get(ctx, "b1")
	if got.Active {
		t.Error("update did not stick")
	}

	if err := s.Bridges.Delete(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bridges.Get(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete = %v", err)
	}
}
