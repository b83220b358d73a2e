// Package triage implements the sysadmin's structured decision tool and
// its capture table. Decisions are keyed by request id and expire after
// five minutes; absence of a capture means WHITE (no triage needed).
package triage

import (
	"fmt"
	"sync"
	"time"

	"github.com/flocklabs/flock/internal/store"
)

// CaptureTTL bounds how long a decision stays claimable.
const CaptureTTL = 5 * time.Minute

// ToolName is what the LLM invokes.
const ToolName = "flock_triage"

// Decision is the sysadmin's structured classification of one request.
type Decision struct {
	RequestID   string           `json:"request_id"`
	Level       store.AuditLevel `json:"level"`
	Reasoning   string           `json:"reasoning"`
	ActionPlan  string           `json:"action_plan"`
	RiskFactors []string         `json:"risk_factors"`
	CapturedAt  time.Time        `json:"capturedAt"`
}

type entry struct {
	decision Decision
	expires  time.Time
}

// Service is the process-wide capture table, passed through construction
// so tests can instantiate isolated copies.
type Service struct {
	mu       sync.Mutex
	captures map[string]entry
	now      func() time.Time
}

func NewService() *Service {
	return &Service{captures: make(map[string]entry), now: time.Now}
}

// Invoke stores a decision and returns the acknowledgement text handed
// back to the LLM. Levels outside GREEN/YELLOW/RED are rejected.
func (s *Service) Invoke(d Decision) (string, error) {
	switch d.Level {
	case store.AuditGreen, store.AuditYellow, store.AuditRed:
	default:
		return "", fmt.Errorf("triage: invalid level %q", d.Level)
	}
	if d.RequestID == "" {
		return "", fmt.Errorf("triage: missing request_id")
	}
	now := s.now().UTC()
	d.CapturedAt = now

	s.mu.Lock()
	s.sweep(now)
	s.captures[d.RequestID] = entry{decision: d, expires: now.Add(CaptureTTL)}
	s.mu.Unlock()

	return fmt.Sprintf("Triage decision %s recorded for request %s", d.Level, d.RequestID), nil
}

// Pop claims and removes the capture for a request id. The second return
// is false when no live capture exists; callers treat that as WHITE.
func (s *Service) Pop(requestID string) (Decision, bool) {
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)
	e, ok := s.captures[requestID]
	if !ok {
		return Decision{}, false
	}
	delete(s.captures, requestID)
	return e.decision, true
}

// sweep removes expired captures. Callers hold the lock.
func (s *Service) sweep(now time.Time) {
	for id, e := range s.captures {
		if now.After(e.expires) {
			delete(s.captures, id)
		}
	}
}

// ToolSchema is the JSON-schema style parameter declaration handed to
// the session layer.
func ToolSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request_id": map[string]any{"type": "string"},
			"level":      map[string]any{"type": "string", "enum": []string{"GREEN", "YELLOW", "RED"}},
			"reasoning":  map[string]any{"type": "string"},
			"action_plan": map[string]any{
				"type": "string",
			},
			"risk_factors": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"request_id", "level", "reasoning"},
	}
}
