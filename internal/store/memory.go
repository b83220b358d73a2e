package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// NewMemoryStores returns the in-memory backend: maps under RWMutex, deep
// copies on every read and write. Used for tests and ephemeral nodes.
func NewMemoryStores() *Stores {
	s := &Stores{
		Homes:           &memHomeStore{homes: map[string]*Home{}},
		Transitions:     &memTransitionStore{},
		Audit:           &memAuditStore{},
		Tasks:           &memTaskStore{tasks: map[string]*TaskRecord{}},
		Channels:        &memChannelStore{channels: map[string]*Channel{}},
		ChannelMessages: &memChannelMessageStore{msgs: map[string][]*ChannelMessage{}},
		AgentLoop:       &memAgentLoopStore{records: map[string]*AgentLoopRecord{}},
		Bridges:         &memBridgeStore{bridges: map[string]*BridgeMapping{}},
	}
	s.Migrate = func(context.Context) error { return nil }
	s.Close = func() error { return nil }
	return s
}

// ---- homes ----

type memHomeStore struct {
	mu    sync.RWMutex
	homes map[string]*Home
}

func cloneHome(h *Home) *Home {
	cp := *h
	if h.LeaseExpiresAt != nil {
		t := *h.LeaseExpiresAt
		cp.LeaseExpiresAt = &t
	}
	if h.Metadata != nil {
		cp.Metadata = make(map[string]string, len(h.Metadata))
		for k, v := range h.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (s *memHomeStore) Insert(_ context.Context, h *Home) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.homes[h.HomeID]; ok {
		return ErrDuplicate
	}
	s.homes[h.HomeID] = cloneHome(h)
	return nil
}

func (s *memHomeStore) Update(_ context.Context, h *Home) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.homes[h.HomeID]; !ok {
		return ErrNotFound
	}
	s.homes[h.HomeID] = cloneHome(h)
	return nil
}

func (s *memHomeStore) Get(_ context.Context, homeID string) (*Home, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.homes[homeID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneHome(h), nil
}

func matchHome(h *Home, f HomeFilter) bool {
	if f.AgentID != nil && h.AgentID != *f.AgentID {
		return false
	}
	if f.NodeID != nil && h.NodeID != *f.NodeID {
		return false
	}
	if f.State != nil && h.State != *f.State {
		return false
	}
	return true
}

func (s *memHomeStore) List(_ context.Context, f HomeFilter) ([]*Home, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Home
	for _, h := range s.homes {
		if matchHome(h, f) {
			out = append(out, cloneHome(h))
		}
	}
	// Homes list ASC by creation time.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].HomeID < out[j].HomeID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *memHomeStore) Count(ctx context.Context, f HomeFilter) (int, error) {
	f.Limit = 0
	homes, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(homes), nil
}

func (s *memHomeStore) Delete(_ context.Context, homeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.homes[homeID]; !ok {
		return ErrNotFound
	}
	delete(s.homes, homeID)
	return nil
}

// ---- transitions ----

type memTransitionStore struct {
	mu         sync.RWMutex
	transitions []*HomeTransition
}

func (s *memTransitionStore) Append(_ context.Context, t *HomeTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.transitions = append(s.transitions, &cp)
	return nil
}

func (s *memTransitionStore) List(_ context.Context, f TransitionFilter) ([]*HomeTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*HomeTransition
	for _, t := range s.transitions {
		if f.HomeID != nil && t.HomeID != *f.HomeID {
			continue
		}
		if f.Since != nil && t.Timestamp.Before(*f.Since) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	// Append order is chronological; transitions list ASC.
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// ---- audit ----

type memAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func (s *memAuditStore) Append(_ context.Context, e *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *memAuditStore) Query(_ context.Context, f AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AuditEntry
	// Newest first.
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.AgentID != nil && e.AgentID != *f.AgentID {
			continue
		}
		if f.HomeID != nil && e.HomeID != *f.HomeID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.Level != nil && e.Level != *f.Level {
			continue
		}
		if f.Since != nil && e.Timestamp.Before(*f.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *memAuditStore) CountByLevel(_ context.Context, agentID *string) (map[AuditLevel]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[AuditLevel]int{}
	for _, e := range s.entries {
		if agentID != nil && e.AgentID != *agentID {
			continue
		}
		counts[e.Level]++
	}
	return counts, nil
}

// ---- tasks ----

type memTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*TaskRecord
}

func cloneTask(t *TaskRecord) *TaskRecord {
	cp := *t
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	if t.Payload != nil {
		cp.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			cp.Payload[k] = v
		}
	}
	if t.ResponsePayload != nil {
		cp.ResponsePayload = make(map[string]any, len(t.ResponsePayload))
		for k, v := range t.ResponsePayload {
			cp.ResponsePayload[k] = v
		}
	}
	return &cp
}

func (s *memTaskStore) Insert(_ context.Context, t *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.TaskID]; ok {
		return ErrDuplicate
	}
	s.tasks[t.TaskID] = cloneTask(t)
	return nil
}

func (s *memTaskStore) Update(_ context.Context, t *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.TaskID]; !ok {
		return ErrNotFound
	}
	s.tasks[t.TaskID] = cloneTask(t)
	return nil
}

func (s *memTaskStore) Get(_ context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func matchTask(t *TaskRecord, f TaskFilter) bool {
	if f.FromAgentID != nil && t.FromAgentID != *f.FromAgentID {
		return false
	}
	if f.ToAgentID != nil && t.ToAgentID != *f.ToAgentID {
		return false
	}
	if f.State != nil && t.State != *f.State {
		return false
	}
	if f.ContextID != nil && t.ContextID != *f.ContextID {
		return false
	}
	if f.Since != nil && t.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func (s *memTaskStore) List(_ context.Context, f TaskFilter) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TaskRecord
	for _, t := range s.tasks {
		if matchTask(t, f) {
			out = append(out, cloneTask(t))
		}
	}
	// Tasks list DESC by createdAt.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TaskID > out[j].TaskID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memTaskStore) Count(ctx context.Context, f TaskFilter) (int, error) {
	f.Limit = 0
	tasks, err := s.List(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// ---- channels ----

type memChannelStore struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func cloneChannel(c *Channel) *Channel {
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	cp.ArchiveReadyMembers = append([]string(nil), c.ArchiveReadyMembers...)
	if c.ArchivingStartedAt != nil {
		t := *c.ArchivingStartedAt
		cp.ArchivingStartedAt = &t
	}
	return &cp
}

func (s *memChannelStore) Insert(_ context.Context, c *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[c.ChannelID]; ok {
		return ErrDuplicate
	}
	for _, existing := range s.channels {
		if strings.EqualFold(existing.Name, c.Name) {
			return ErrDuplicate
		}
	}
	s.channels[c.ChannelID] = cloneChannel(c)
	return nil
}

func (s *memChannelStore) Update(_ context.Context, c *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[c.ChannelID]; !ok {
		return ErrNotFound
	}
	s.channels[c.ChannelID] = cloneChannel(c)
	return nil
}

func (s *memChannelStore) Get(_ context.Context, channelID string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channelID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChannel(c), nil
}

func (s *memChannelStore) GetByName(_ context.Context, name string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.channels {
		if strings.EqualFold(c.Name, name) {
			return cloneChannel(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memChannelStore) List(_ context.Context, includeArchived bool) ([]*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Channel
	for _, c := range s.channels {
		if !includeArchived && c.Archived {
			continue
		}
		out = append(out, cloneChannel(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memChannelStore) Delete(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; !ok {
		return ErrNotFound
	}
	delete(s.channels, channelID)
	return nil
}

// ---- channel messages ----

type memChannelMessageStore struct {
	mu   sync.Mutex
	msgs map[string][]*ChannelMessage
}

func (s *memChannelMessageStore) Append(_ context.Context, channelID, agentID, content string) (*ChannelMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &ChannelMessage{
		ChannelID: channelID,
		Seq:       int64(len(s.msgs[channelID])) + 1,
		AgentID:   agentID,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	s.msgs[channelID] = append(s.msgs[channelID], msg)
	cp := *msg
	return &cp, nil
}

func (s *memChannelMessageStore) List(_ context.Context, channelID string, sinceSeq int64, limit int) ([]*ChannelMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ChannelMessage
	for _, m := range s.msgs[channelID] {
		if m.Seq <= sinceSeq {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memChannelMessageStore) Count(_ context.Context, channelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[channelID]), nil
}

// ---- agent loop ----

type memAgentLoopStore struct {
	mu      sync.Mutex
	records map[string]*AgentLoopRecord
}

func cloneLoop(r *AgentLoopRecord) *AgentLoopRecord {
	cp := *r
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	cp.LastTickAt = copyTime(r.LastTickAt)
	cp.AwakenedAt = copyTime(r.AwakenedAt)
	cp.SleptAt = copyTime(r.SleptAt)
	return &cp
}

func (s *memAgentLoopStore) Init(_ context.Context, agentID string, state LoopState) (*AgentLoopRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	rec := &AgentLoopRecord{AgentID: agentID, State: NormalizeLoopState(state)}
	if rec.State == LoopSleep {
		rec.SleptAt = &now
	} else {
		rec.AwakenedAt = &now
	}
	s.records[agentID] = rec
	return cloneLoop(rec), nil
}

func (s *memAgentLoopStore) Get(_ context.Context, agentID string) (*AgentLoopRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLoop(r), nil
}

func (s *memAgentLoopStore) SetState(_ context.Context, agentID string, state LoopState, reason string) (*AgentLoopRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	r.State = NormalizeLoopState(state)
	switch r.State {
	case LoopSleep:
		r.SleptAt = &now
		r.SleepReason = reason
	case LoopAwake:
		r.SleptAt = nil
		r.SleepReason = ""
		r.AwakenedAt = &now
	}
	return cloneLoop(r), nil
}

func (s *memAgentLoopStore) UpdateLastTick(_ context.Context, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[agentID]
	if !ok {
		return ErrNotFound
	}
	t := at
	r.LastTickAt = &t
	return nil
}

func (s *memAgentLoopStore) List(_ context.Context, states ...LoopState) ([]*AgentLoopRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := map[LoopState]bool{}
	for _, st := range states {
		want[st] = true
	}
	var out []*AgentLoopRecord
	for _, r := range s.records {
		if len(want) > 0 && !want[r.State] {
			continue
		}
		out = append(out, cloneLoop(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

// ---- bridges ----

type memBridgeStore struct {
	mu      sync.RWMutex
	bridges map[string]*BridgeMapping
}

func (s *memBridgeStore) Insert(_ context.Context, b *BridgeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bridges[b.BridgeID]; ok {
		return ErrDuplicate
	}
	cp := *b
	s.bridges[b.BridgeID] = &cp
	return nil
}

func (s *memBridgeStore) Update(_ context.Context, b *BridgeMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bridges[b.BridgeID]; !ok {
		return ErrNotFound
	}
	cp := *b
	s.bridges[b.BridgeID] = &cp
	return nil
}

func (s *memBridgeStore) Get(_ context.Context, bridgeID string) (*BridgeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bridges[bridgeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memBridgeStore) GetByChannel(_ context.Context, channelID string) ([]*BridgeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BridgeMapping
	for _, b := range s.bridges {
		if b.ChannelID == channelID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BridgeID < out[j].BridgeID })
	return out, nil
}

func (s *memBridgeStore) List(_ context.Context) ([]*BridgeMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BridgeMapping
	for _, b := range s.bridges {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BridgeID < out[j].BridgeID })
	return out, nil
}

func (s *memBridgeStore) Delete(_ context.Context, bridgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bridges[bridgeID]; !ok {
		return ErrNotFound
	}
	delete(s.bridges, bridgeID)
	return nil
}
