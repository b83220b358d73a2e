// Package a2a implements the agent-to-agent peer protocol: typed message
// envelopes, agent cards with Flock metadata, the JSON-RPC HTTP server,
// the outbound client, and the per-agent executor.
package a2a

import (
	"github.com/google/uuid"
)

// Part kinds inside a message.
const (
	PartText = "text"
	PartData = "data"
)

// FlockType classifies a message for routing and prompting.
type FlockType string

const (
	TypeTask           FlockType = "task"
	TypeReview         FlockType = "review"
	TypeInfo           FlockType = "info"
	TypeStatusUpdate   FlockType = "status-update"
	TypeGeneral        FlockType = "general"
	TypeWorkerTask     FlockType = "worker-task"
	TypeSysadminReq    FlockType = "sysadmin-request"
	TypeTriageDecision FlockType = "triage-decision"
)

// Urgency levels carried by FlockMeta.
const (
	UrgencyLow    = "low"
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

// FlockMeta is the structured envelope metadata attached as a data part.
type FlockMeta struct {
	FlockType FlockType `json:"flockType,omitempty"`
	Urgency   string    `json:"urgency,omitempty"`
	Project   string    `json:"project,omitempty"`
	FromHome  string    `json:"fromHome,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

// Part is one ordered element of a message. Text parts carry
// user-visible content; data parts carry structured payloads and may
// embed FlockMeta under the "flockMeta" key.
type Part struct {
	Kind string         `json:"kind"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is the A2A envelope.
type Message struct {
	Role      string `json:"role"`
	MessageID string `json:"messageId"`
	Parts     []Part `json:"parts"`
}

// Build assembles a message. Text-only input yields a single text part;
// a non-nil meta or extra data appends one data part carrying both.
func Build(text string, meta *FlockMeta, extra map[string]any) Message {
	msg := Message{
		Role:      "user",
		MessageID: uuid.NewString(),
		Parts:     []Part{{Kind: PartText, Text: text}},
	}
	if meta == nil && len(extra) == 0 {
		return msg
	}
	data := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		data[k] = v
	}
	if meta != nil {
		data["flockMeta"] = metaToMap(*meta)
	}
	msg.Parts = append(msg.Parts, Part{Kind: PartData, Data: data})
	return msg
}

// Text concatenates all text parts in order.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}

// Meta extracts FlockMeta from the first data part that carries it.
// Returns nil when no part does.
func (m Message) Meta() *FlockMeta {
	for _, p := range m.Parts {
		if p.Kind != PartData || p.Data == nil {
			continue
		}
		raw, ok := p.Data["flockMeta"]
		if !ok {
			continue
		}
		return metaFromAny(raw)
	}
	return nil
}

func metaToMap(meta FlockMeta) map[string]any {
	out := map[string]any{}
	if meta.FlockType != "" {
		out["flockType"] = string(meta.FlockType)
	}
	if meta.Urgency != "" {
		out["urgency"] = meta.Urgency
	}
	if meta.Project != "" {
		out["project"] = meta.Project
	}
	if meta.FromHome != "" {
		out["fromHome"] = meta.FromHome
	}
	if meta.RequestID != "" {
		out["requestId"] = meta.RequestID
	}
	return out
}

func metaFromAny(raw any) *FlockMeta {
	m, ok := raw.(map[string]any)
	if !ok {
		// Decoded through a typed path rather than generic JSON.
		if typed, ok := raw.(FlockMeta); ok {
			return &typed
		}
		if typed, ok := raw.(*FlockMeta); ok {
			clone := *typed
			return &clone
		}
		return nil
	}
	meta := &FlockMeta{}
	if v, ok := m["flockType"].(string); ok {
		meta.FlockType = FlockType(v)
	}
	if v, ok := m["urgency"].(string); ok {
		meta.Urgency = v
	}
	if v, ok := m["project"].(string); ok {
		meta.Project = v
	}
	if v, ok := m["fromHome"].(string); ok {
		meta.FromHome = v
	}
	if v, ok := m["requestId"].(string); ok {
		meta.RequestID = v
	}
	return meta
}
