// Package store defines the backend-neutral persistence contracts of a
// Flock node: homes, home transitions, audit entries, tasks, channels,
// channel messages, agent-loop states, and bridge mappings. Three
// conforming backends exist: in-memory (this package), SQLite
// (store/sqlite), and Postgres (store/pg).
package store

import "time"

// HomeState is the lifecycle state of one agent home.
type HomeState string

const (
	HomeUnassigned   HomeState = "UNASSIGNED"
	HomeProvisioning HomeState = "PROVISIONING"
	HomeIdle         HomeState = "IDLE"
	HomeLeased       HomeState = "LEASED"
	HomeActive       HomeState = "ACTIVE"
	HomeFrozen       HomeState = "FROZEN"
	HomeMigrating    HomeState = "MIGRATING"
	HomeRetired      HomeState = "RETIRED"
)

// Home is the record of one agent living on one node.
// HomeID is "<agentId>@<nodeId>" and is the primary key.
type Home struct {
	HomeID         string            `json:"homeId"`
	AgentID        string            `json:"agentId"`
	NodeID         string            `json:"nodeId"`
	State          HomeState         `json:"state"`
	LeaseExpiresAt *time.Time        `json:"leaseExpiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// HomeID composes the primary key for an (agentId, nodeId) pair.
func HomeID(agentID, nodeID string) string { return agentID + "@" + nodeID }

// HomeTransition records one home FSM edge taken.
type HomeTransition struct {
	HomeID      string    `json:"homeId"`
	FromState   HomeState `json:"fromState"`
	ToState     HomeState `json:"toState"`
	Reason      string    `json:"reason"`
	TriggeredBy string    `json:"triggeredBy"`
	Timestamp   time.Time `json:"timestamp"`
}

// AuditLevel is the 4-tone event ranking: GREEN auto-approved, YELLOW
// needs review, RED dangerous, WHITE unobserved.
type AuditLevel string

const (
	AuditGreen  AuditLevel = "GREEN"
	AuditYellow AuditLevel = "YELLOW"
	AuditRed    AuditLevel = "RED"
	AuditWhite  AuditLevel = "WHITE"
)

// AuditEntry is one append-only structured event.
type AuditEntry struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	HomeID     string        `json:"homeId,omitempty"`
	AgentID    string        `json:"agentId"`
	Action     string        `json:"action"`
	Level      AuditLevel    `json:"level"`
	Detail     string        `json:"detail,omitempty"`
	Result     string        `json:"result,omitempty"`
	DurationMs time.Duration `json:"duration,omitempty"`
}

// TaskState follows the A2A task lifecycle.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskAccepted      TaskState = "accepted"
	TaskRejected      TaskState = "rejected"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input-required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCanceled      TaskState = "canceled"
)

// validTaskStates guards readback of corrupted rows.
var validTaskStates = map[TaskState]bool{
	TaskSubmitted: true, TaskAccepted: true, TaskRejected: true,
	TaskWorking: true, TaskInputRequired: true, TaskCompleted: true,
	TaskFailed: true, TaskCanceled: true,
}

// NormalizeTaskState maps unknown values to the safe default "submitted".
func NormalizeTaskState(s TaskState) TaskState {
	if validTaskStates[s] {
		return s
	}
	return TaskSubmitted
}

// TaskRecord is one per A2A message/send.
type TaskRecord struct {
	TaskID          string            `json:"taskId"`
	ContextID       string            `json:"contextId"`
	FromAgentID     string            `json:"fromAgentId"`
	ToAgentID       string            `json:"toAgentId"`
	State           TaskState         `json:"state"`
	MessageType     string            `json:"messageType"`
	Summary         string            `json:"summary"`
	Payload         map[string]any    `json:"payload,omitempty"`
	ResponseText    string            `json:"responseText,omitempty"`
	ResponsePayload map[string]any    `json:"responsePayload,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

// Channel is the group discussion primitive.
type Channel struct {
	ChannelID           string     `json:"channelId"`
	Name                string     `json:"name"`
	Topic               string     `json:"topic,omitempty"`
	CreatedBy           string     `json:"createdBy"`
	Members             []string   `json:"members"`
	Archived            bool       `json:"archived"`
	ArchiveReadyMembers []string   `json:"archiveReadyMembers,omitempty"`
	ArchivingStartedAt  *time.Time `json:"archivingStartedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// ChannelMessage is one message in a channel. Seq is assigned server-side
// at append time, strictly increasing per channel, starting at 1.
type ChannelMessage struct {
	ChannelID string    `json:"channelId"`
	Seq       int64     `json:"seq"`
	AgentID   string    `json:"agentId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LoopState is the work-loop state of an agent.
type LoopState string

const (
	LoopAwake    LoopState = "AWAKE"
	LoopSleep    LoopState = "SLEEP"
	LoopReactive LoopState = "REACTIVE"
)

// NormalizeLoopState maps unknown values to the safe default "AWAKE".
func NormalizeLoopState(s LoopState) LoopState {
	switch s {
	case LoopAwake, LoopSleep, LoopReactive:
		return s
	}
	return LoopAwake
}

// AgentLoopRecord tracks one agent's work-loop accounting.
type AgentLoopRecord struct {
	AgentID     string     `json:"agentId"`
	State       LoopState  `json:"state"`
	LastTickAt  *time.Time `json:"lastTickAt,omitempty"`
	AwakenedAt  *time.Time `json:"awakenedAt,omitempty"`
	SleptAt     *time.Time `json:"sleptAt,omitempty"`
	SleepReason string     `json:"sleepReason,omitempty"`
}

// BridgeMapping links a Flock channel to an external platform channel.
type BridgeMapping struct {
	BridgeID          string `json:"bridgeId"`
	ChannelID         string `json:"channelId"`
	Platform          string `json:"platform"`
	ExternalChannelID string `json:"externalChannelId"`
	WebhookURL        string `json:"webhookUrl,omitempty"`
	Active            bool   `json:"active"`
}
