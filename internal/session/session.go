// Package session is the LLM session layer consumed by the A2A executor.
// Per-agent conversation state lives in the Manager; the model call
// itself goes through a pluggable Provider.
package session

import (
	"context"
	"sync"
	"time"
)

// Config shapes one agent's session.
type Config struct {
	Model              string
	SystemPrompt       string
	Tools              []ToolDef
	ThinkingLevel      string
	GetAPIKey          func() string
	MaxContextMessages int
}

// ToolDef declares one tool the model may call.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Event is one notable occurrence during a session call (tool use, retry).
type Event struct {
	Kind   string         `json:"kind"`
	Name   string         `json:"name,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// Reply is the outcome of one Send.
type Reply struct {
	Text   string
	Events []Event
}

// Sender is what the executor sees of the session layer.
type Sender interface {
	Send(ctx context.Context, agentID, message string, cfg Config) (*Reply, error)
}

// Message is one history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider performs the actual model call given full history.
type Provider interface {
	Complete(ctx context.Context, cfg Config, history []Message) (*Reply, error)
}

// Manager maintains per-agent message history across calls and trims the
// oldest entries when MaxContextMessages is exceeded.
type Manager struct {
	provider Provider

	mu       sync.Mutex
	history  map[string][]Message
	inflight map[string]*sync.Mutex
}

func NewManager(provider Provider) *Manager {
	return &Manager{
		provider: provider,
		history:  make(map[string][]Message),
		inflight: make(map[string]*sync.Mutex),
	}
}

// Send appends the user message, invokes the provider with the trimmed
// history, and records the assistant reply. Calls for the same agent
// serialize; the per-agent session is not re-entrant.
func (m *Manager) Send(ctx context.Context, agentID, message string, cfg Config) (*Reply, error) {
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	m.history[agentID] = append(m.history[agentID], Message{Role: "user", Content: message})
	m.history[agentID] = trim(m.history[agentID], cfg.MaxContextMessages)
	history := append([]Message(nil), m.history[agentID]...)
	m.mu.Unlock()

	reply, err := m.provider.Complete(ctx, cfg, history)
	if err != nil {
		return nil, err
	}
	if reply.Text != "" {
		m.mu.Lock()
		m.history[agentID] = append(m.history[agentID], Message{Role: "assistant", Content: reply.Text})
		m.history[agentID] = trim(m.history[agentID], cfg.MaxContextMessages)
		m.mu.Unlock()
	}
	return reply, nil
}

// History returns a copy of the agent's history.
func (m *Manager) History(agentID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.history[agentID]...)
}

// Reset drops an agent's history.
func (m *Manager) Reset(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, agentID)
}

func (m *Manager) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.inflight[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.inflight[agentID] = lock
	}
	return lock
}

// trim drops the oldest entries past the limit, preserving order.
func trim(msgs []Message, max int) []Message {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	return msgs[len(msgs)-max:]
}
