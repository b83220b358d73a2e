package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures every tick sent.
type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	metas []*a2a.FlockMeta
	fail  map[string]error
}

func (s *recordingSender) SendMessage(_ context.Context, agentID, text string, meta *a2a.FlockMeta) (*a2a.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[agentID]; ok {
		return nil, err
	}
	s.sent = append(s.sent, agentID)
	s.metas = append(s.metas, meta)
	task := a2a.NewTask("t", "c", store.TaskCompleted)
	return &task, nil
}

func (s *recordingSender) agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestTickAll_FiltersByState(t *testing.T) {
	ctx := context.Background()
	loops := store.NewMemoryStores().AgentLoop
	for _, init := range []struct {
		id    string
		state store.LoopState
	}{
		{"ada", store.LoopAwake},
		{"bob", store.LoopAwake},
		{"carol", store.LoopReactive},
		{"dana", store.LoopSleep},
	} {
		if _, err := loops.Init(ctx, init.id, init.state); err != nil {
			t.Fatal(err)
		}
	}

	sender := &recordingSender{}
	s := New(loops, sender, quietLogger())

	s.TickAll(ctx, store.LoopAwake)
	got := sender.agents()
	if len(got) != 2 {
		t.Fatalf("awake ticks = %v", got)
	}
	for _, id := range got {
		if id == "carol" || id == "dana" {
			t.Errorf("ticked %s outside AWAKE", id)
		}
	}

	s.TickAll(ctx, store.LoopReactive)
	if got := sender.agents(); len(got) != 3 || got[2] != "carol" {
		t.Errorf("after reactive ticks = %v", got)
	}

	// Sleeping agents never tick.
	s.TickAll(ctx, store.LoopSleep)
	if got := sender.agents(); len(got) != 3 {
		t.Errorf("sleep state ticked: %v", got)
	}

	// Each tick carries the status-update envelope and stamps lastTickAt.
	sender.mu.Lock()
	meta := sender.metas[0]
	sender.mu.Unlock()
	if meta == nil || meta.FlockType != a2a.TypeStatusUpdate || meta.Urgency != a2a.UrgencyLow {
		t.Errorf("tick meta = %+v", meta)
	}
	rec, err := loops.Get(ctx, "ada")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastTickAt == nil {
		t.Error("lastTickAt not stamped")
	}
}

func TestTickAll_SendFailureSkipsTickStamp(t *testing.T) {
	ctx := context.Background()
	loops := store.NewMemoryStores().AgentLoop
	if _, err := loops.Init(ctx, "ada", store.LoopAwake); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{fail: map[string]error{"ada": errors.New("unreachable")}}
	New(loops, sender, quietLogger()).TickAll(ctx, store.LoopAwake)

	rec, err := loops.Get(ctx, "ada")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LastTickAt != nil {
		t.Error("failed tick stamped lastTickAt")
	}
}

func TestSleepWake(t *testing.T) {
	ctx := context.Background()
	loops := store.NewMemoryStores().AgentLoop
	if _, err := loops.Init(ctx, "ada", store.LoopAwake); err != nil {
		t.Fatal(err)
	}

	s := New(loops, &recordingSender{}, quietLogger())

	rec, err := s.Sleep(ctx, "ada", "done for the day")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.LoopSleep || rec.SleepReason != "done for the day" {
		t.Errorf("record = %+v", rec)
	}

	// Sleeping agents drop out of the tick set entirely.
	sender := &recordingSender{}
	New(loops, sender, quietLogger()).TickAll(ctx, store.LoopAwake)
	if got := sender.agents(); len(got) != 0 {
		t.Errorf("sleeping agent ticked: %v", got)
	}

	rec, err = s.Wake(ctx, "ada")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.LoopAwake || rec.SleepReason != "" {
		t.Errorf("record after wake = %+v", rec)
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	loops := store.NewMemoryStores().AgentLoop
	s := New(loops, &recordingSender{}, quietLogger())

	s.Start(ctx)
	s.Stop()
	// Stop is idempotent.
	s.Stop()
}
