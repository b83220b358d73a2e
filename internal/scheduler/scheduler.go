// Package scheduler drives the agent work loop: a fast cadence for AWAKE
// agents, a slow cadence for REACTIVE agents, and nothing for SLEEP.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/internal/store"
)

// Default tick cadences.
const (
	DefaultAwakeInterval    = 60 * time.Second
	DefaultReactiveInterval = 5 * time.Minute
)

// TickMessage is the synthetic prompt sent on each work-loop tick.
const TickMessage = "Work-loop tick: review your current state and continue any outstanding work."

// Sender is the outbound message surface the scheduler drives.
type Sender interface {
	SendMessage(ctx context.Context, agentID, text string, meta *a2a.FlockMeta) (*a2a.Task, error)
}

// Scheduler owns the periodic work loop for one node's agents.
type Scheduler struct {
	loops  store.AgentLoopStore
	sender Sender
	logger *slog.Logger

	awakeInterval    time.Duration
	reactiveInterval time.Duration
	awakeCron        string
	reactiveCron     string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Scheduler)

func WithIntervals(awake, reactive time.Duration) Option {
	return func(s *Scheduler) {
		if awake > 0 {
			s.awakeInterval = awake
		}
		if reactive > 0 {
			s.reactiveInterval = reactive
		}
	}
}

// WithCron replaces the interval tickers with cron expressions checked
// once a minute.
func WithCron(awakeExpr, reactiveExpr string) Option {
	return func(s *Scheduler) {
		s.awakeCron = awakeExpr
		s.reactiveCron = reactiveExpr
	}
}

func New(loops store.AgentLoopStore, sender Sender, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		loops:            loops,
		sender:           sender,
		logger:           logger.With("component", "scheduler"),
		awakeInterval:    DefaultAwakeInterval,
		reactiveInterval: DefaultReactiveInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the tick loops. Stop cancels future ticks but never
// interrupts one in flight.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.awakeCron != "" || s.reactiveCron != "" {
		s.wg.Add(1)
		go s.runCron(ctx)
		return
	}
	s.wg.Add(2)
	go s.runInterval(ctx, s.awakeInterval, store.LoopAwake)
	go s.runInterval(ctx, s.reactiveInterval, store.LoopReactive)
}

// Stop ceases further ticks and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) runInterval(ctx context.Context, interval time.Duration, state store.LoopState) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickAll(ctx, state)
		}
	}
}

// runCron checks the cron expressions once a minute.
func (s *Scheduler) runCron(ctx context.Context) {
	defer s.wg.Done()
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.awakeCron != "" {
				if due, err := gron.IsDue(s.awakeCron); err == nil && due {
					s.TickAll(ctx, store.LoopAwake)
				}
			}
			if s.reactiveCron != "" {
				if due, err := gron.IsDue(s.reactiveCron); err == nil && due {
					s.TickAll(ctx, store.LoopReactive)
				}
			}
		}
	}
}

// TickAll sends one synthetic tick to every agent in the given loop
// state. Failures are logged and retried on the next interval; the only
// per-tick persistence is lastTickAt.
func (s *Scheduler) TickAll(ctx context.Context, state store.LoopState) {
	records, err := s.loops.List(ctx, state)
	if err != nil {
		s.logger.Error("list loop states failed", "state", state, "error", err)
		return
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		s.tickOne(ctx, rec.AgentID)
	}
}

func (s *Scheduler) tickOne(ctx context.Context, agentID string) {
	meta := &a2a.FlockMeta{FlockType: a2a.TypeStatusUpdate, Urgency: a2a.UrgencyLow}
	if _, err := s.sender.SendMessage(ctx, agentID, TickMessage, meta); err != nil {
		s.logger.Warn("tick failed", "agent_id", agentID, "error", err)
		return
	}
	if err := s.loops.UpdateLastTick(ctx, agentID, time.Now().UTC()); err != nil {
		s.logger.Warn("update last tick failed", "agent_id", agentID, "error", err)
	}
}

// Sleep moves an agent to SLEEP with the given reason.
func (s *Scheduler) Sleep(ctx context.Context, agentID, reason string) (*store.AgentLoopRecord, error) {
	return s.loops.SetState(ctx, agentID, store.LoopSleep, reason)
}

// Wake returns an agent to AWAKE.
func (s *Scheduler) Wake(ctx context.Context, agentID string) (*store.AgentLoopRecord, error) {
	return s.loops.SetState(ctx, agentID, store.LoopAwake, "")
}
