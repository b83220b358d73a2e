package a2a

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/flocklabs/flock/internal/audit"
	"github.com/flocklabs/flock/internal/session"
	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/internal/triage"
)

type executorFixture struct {
	exec   *SessionExecutor
	tasks  store.TaskStore
	stores *store.Stores
	triage *triage.Service
}

func newExecutorFixture(t *testing.T, role Role, provider session.Provider) *executorFixture {
	t.Helper()
	stores := store.NewMemoryStores()
	f := &executorFixture{
		stores: stores,
		tasks:  stores.Tasks,
		triage: triage.NewService(),
	}
	auditLog := audit.NewLogger(stores.Audit, testLogger())
	cfg := session.Config{Model: "test-model", MaxContextMessages: 20}
	f.exec = NewSessionExecutor("ada", role, "node-a", cfg,
		session.NewManager(provider), stores.Tasks, auditLog, testLogger(),
		WithTriage(f.triage))
	return f
}

func TestSessionExecutor_Completes(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, RoleWorker, session.EchoProvider())

	task, err := f.exec.Execute(ctx, Build("do the thing", &FlockMeta{FlockType: TypeTask, FromHome: "bob@node-b"}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if task.Status.State != store.TaskCompleted {
		t.Fatalf("state = %s", task.Status.State)
	}
	// The echo provider sees the prompt with the meta header applied.
	if got := task.FirstText(); got != "[task] do the thing" {
		t.Errorf("reply = %q", got)
	}

	rec, err := f.tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.TaskCompleted || rec.FromAgentID != "bob@node-b" || rec.MessageType != "task" {
		t.Errorf("record = %+v", rec)
	}
	if rec.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
}

func TestSessionExecutor_ProviderFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("model unavailable")
	f := newExecutorFixture(t, RoleWorker, session.NewScriptedProvider(
		func(string, string, session.Config) (*session.Reply, error) { return nil, boom }))

	task, err := f.exec.Execute(ctx, Build("hi", nil, nil))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if task.Status.State != store.TaskFailed {
		t.Errorf("state = %s", task.Status.State)
	}
	rec, _ := f.tasks.Get(ctx, task.ID)
	if rec.State != store.TaskFailed {
		t.Errorf("record state = %s", rec.State)
	}
}

// requestID pulls the generated request id out of the sysadmin prompt.
func requestID(prompt string) string {
	const marker = "Request ID: "
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		return rest[:j]
	}
	return rest
}

// The sysadmin path threads a request id through the prompt; when the
// model calls the triage tool, the decision comes back as an artifact.
func TestSessionExecutor_SysadminTriage(t *testing.T) {
	ctx := context.Background()
	var f *executorFixture
	provider := session.NewScriptedProvider(func(_, message string, _ session.Config) (*session.Reply, error) {
		id := requestID(message)
		if id == "" {
			return nil, errors.New("no request id in prompt")
		}
		_, err := f.triage.Invoke(triage.Decision{
			RequestID: id,
			Level:     store.AuditYellow,
			Reasoning: "touches production",
		})
		if err != nil {
			return nil, err
		}
		return &session.Reply{Text: "classified and queued"}, nil
	})
	f = newExecutorFixture(t, RoleSysadmin, provider)

	task, err := f.exec.Execute(ctx, Build("please rotate the db credentials",
		&FlockMeta{FlockType: TypeSysadminReq, FromHome: "bob@node-b"}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if task.Status.State != store.TaskCompleted {
		t.Fatalf("state = %s", task.Status.State)
	}

	var triageArtifact *Artifact
	for i := range task.Artifacts {
		if task.Artifacts[i].Name == "triage" {
			triageArtifact = &task.Artifacts[i]
		}
	}
	if triageArtifact == nil {
		t.Fatalf("no triage artifact in %+v", task.Artifacts)
	}
	data := triageArtifact.Parts[0].Data
	if data["level"] != "YELLOW" || data["reasoning"] != "touches production" {
		t.Errorf("triage data = %v", data)
	}

	rec, _ := f.tasks.Get(ctx, task.ID)
	if rec.ResponsePayload["triageLevel"] != "YELLOW" {
		t.Errorf("response payload = %v", rec.ResponsePayload)
	}
}

// Without a tool call the capture table stays empty and the triage level
// defaults to WHITE.
func TestSessionExecutor_SysadminNoTriageIsWhite(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, RoleSysadmin, session.NewScriptedProvider(
		func(string, string, session.Config) (*session.Reply, error) {
			return &session.Reply{Text: "just answering"}, nil
		}))

	task, err := f.exec.Execute(ctx, Build("what is the uptime",
		&FlockMeta{FlockType: TypeSysadminReq}, nil))
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range task.Artifacts {
		if a.Name == "triage" {
			t.Error("triage artifact without a captured decision")
		}
	}
	rec, _ := f.tasks.Get(ctx, task.ID)
	if rec.ResponsePayload["triageLevel"] != "WHITE" {
		t.Errorf("response payload = %v", rec.ResponsePayload)
	}
}

// Non-sysadmin requests to a sysadmin agent skip the triage machinery.
func TestSessionExecutor_GeneralMessageToSysadmin(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, RoleSysadmin, session.EchoProvider())

	task, err := f.exec.Execute(ctx, Build("hello", nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := f.tasks.Get(ctx, task.ID)
	if rec.ResponsePayload != nil {
		t.Errorf("triage payload on a general message: %v", rec.ResponsePayload)
	}
	if got := task.FirstText(); got != "hello" {
		t.Errorf("reply = %q", got)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"ascii", strings.Repeat("a", 300)},
		{"multibyte at cut", strings.Repeat("héllo wörld ", 30)},
		{"cjk", strings.Repeat("流れ", 100)},
		{"emoji", strings.Repeat("ok \U0001F600 ", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := summarize(tt.text)
			if !strings.HasSuffix(got, "...") {
				t.Fatalf("summary %q not truncated", got)
			}
			if !utf8.ValidString(got) {
				t.Errorf("summary %q splits a rune", got)
			}
			if len(got) > 143 {
				t.Errorf("summary is %d bytes", len(got))
			}
		})
	}

	short := "fits as is"
	if got := summarize(short); got != short {
		t.Errorf("summarize(%q) = %q", short, got)
	}
}
