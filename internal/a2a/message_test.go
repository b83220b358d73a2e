package a2a

import (
	"encoding/json"
	"testing"
)

func TestBuild_TextOnly(t *testing.T) {
	msg := Build("hello", nil, nil)
	if len(msg.Parts) != 1 || msg.Parts[0].Kind != PartText {
		t.Fatalf("parts = %+v", msg.Parts)
	}
	if msg.MessageID == "" || msg.Role != "user" {
		t.Errorf("envelope = %+v", msg)
	}
	if msg.Meta() != nil {
		t.Error("meta present on text-only message")
	}
}

// Envelope metadata must survive a trip through the wire encoding.
func TestBuild_MetaRoundTrip(t *testing.T) {
	meta := &FlockMeta{
		FlockType: TypeSysadminReq,
		Urgency:   UrgencyHigh,
		Project:   "atlas",
		FromHome:  "ada@node-a",
		RequestID: "req-1",
	}
	msg := Build("restart the db", meta, map[string]any{"extra": "x"})

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Message
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	got := decoded.Meta()
	if got == nil {
		t.Fatal("meta lost in transit")
	}
	if *got != *meta {
		t.Errorf("meta = %+v, want %+v", got, meta)
	}
	if decoded.Text() != "restart the db" {
		t.Errorf("text = %q", decoded.Text())
	}
	// The extra payload rides in the same data part.
	if decoded.Parts[1].Data["extra"] != "x" {
		t.Errorf("extra payload = %v", decoded.Parts[1].Data)
	}
}

func TestMessage_TextConcatenatesParts(t *testing.T) {
	msg := Message{Parts: []Part{
		{Kind: PartText, Text: "one "},
		{Kind: PartData, Data: map[string]any{"k": "v"}},
		{Kind: PartText, Text: "two"},
	}}
	if got := msg.Text(); got != "one two" {
		t.Errorf("Text() = %q", got)
	}
}

// When several data parts carry metadata, the first one wins.
func TestMessage_MetaFirstDataPartWins(t *testing.T) {
	msg := Message{Parts: []Part{
		{Kind: PartData, Data: map[string]any{"flockMeta": map[string]any{"flockType": "task"}}},
		{Kind: PartData, Data: map[string]any{"flockMeta": map[string]any{"flockType": "review"}}},
	}}
	got := msg.Meta()
	if got == nil || got.FlockType != TypeTask {
		t.Errorf("meta = %+v, want task", got)
	}
}

func TestMessage_MetaTypedValues(t *testing.T) {
	// A message built in-process carries FlockMeta as a typed value until
	// it crosses the wire.
	msg := Build("x", &FlockMeta{FlockType: TypeInfo}, nil)
	got := msg.Meta()
	if got == nil || got.FlockType != TypeInfo {
		t.Errorf("meta = %+v", got)
	}
}

func TestTask_FirstText(t *testing.T) {
	task := NewTask("t1", "c1", "completed",
		DataArtifact("d", "payload", map[string]any{"k": "v"}),
		TextArtifact("a", "response", "answer"))
	if got := task.FirstText(); got != "answer" {
		t.Errorf("FirstText() = %q", got)
	}
	if empty := (Task{}); empty.FirstText() != "" {
		t.Error("FirstText on empty task")
	}
}
