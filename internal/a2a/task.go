package a2a

import "github.com/flocklabs/flock/internal/store"

// Artifact is one named output attached to a task.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name"`
	Parts      []Part `json:"parts"`
}

// TaskStatus wraps the task state for the wire shape.
type TaskStatus struct {
	State store.TaskState `json:"state"`
}

// Task is the JSON-RPC result of message/send and tasks/get.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	ContextID string     `json:"contextId,omitempty"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// NewTask builds the wire task shape.
func NewTask(id, contextID string, state store.TaskState, artifacts ...Artifact) Task {
	return Task{
		Kind:      "task",
		ID:        id,
		ContextID: contextID,
		Status:    TaskStatus{State: state},
		Artifacts: artifacts,
	}
}

// TextArtifact wraps assistant text in the standard response artifact.
func TextArtifact(id, name, text string) Artifact {
	return Artifact{
		ArtifactID: id,
		Name:       name,
		Parts:      []Part{{Kind: PartText, Text: text}},
	}
}

// DataArtifact wraps a structured payload in a named artifact.
func DataArtifact(id, name string, data map[string]any) Artifact {
	return Artifact{
		ArtifactID: id,
		Name:       name,
		Parts:      []Part{{Kind: PartData, Data: data}},
	}
}

// FirstText returns the first text part across the task's artifacts.
func (t Task) FirstText() string {
	for _, a := range t.Artifacts {
		for _, p := range a.Parts {
			if p.Kind == PartText {
				return p.Text
			}
		}
	}
	return ""
}
