package a2a

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// execFunc adapts a function to the Executor interface.
type execFunc func(ctx context.Context, msg Message) (Task, error)

func (f execFunc) Execute(ctx context.Context, msg Message) (Task, error) { return f(ctx, msg) }

// guardFunc adapts a function to the FrozenGuard interface.
type guardFunc func(agentID string) GuardResult

func (f guardFunc) Check(agentID string) GuardResult { return f(agentID) }

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *CardRegistry, store.TaskStore) {
	t.Helper()
	reg := NewCardRegistry()
	tasks := store.NewMemoryStores().Tasks
	srv := NewServer("node-a", "/flock", reg, tasks, testLogger(), opts...)
	return srv, reg, tasks
}

func sendReq(text string) *protocol.Request {
	return protocol.NewRequest("1", protocol.MethodMessageSend,
		map[string]any{"message": Build(text, nil, nil)})
}

func TestServer_DispatchMessage(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.Register(AgentCard{AgentID: "ada", Name: "Ada"}, execFunc(func(_ context.Context, msg Message) (Task, error) {
		return NewTask("t1", "c1", store.TaskCompleted, TextArtifact("a", "response", "got: "+msg.Text())), nil
	}))

	resp := srv.Dispatch(context.Background(), "ada", sendReq("ping"))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	var task Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatal(err)
	}
	if task.Status.State != store.TaskCompleted || task.FirstText() != "got: ping" {
		t.Errorf("task = %+v", task)
	}
}

func TestServer_UnknownAgent(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := srv.Dispatch(context.Background(), "ghost", sendReq("hi"))
	if resp.Error == nil || resp.Error.Code != protocol.CodeDomainError {
		t.Fatalf("error = %+v", resp.Error)
	}
	data, ok := resp.Error.Data.(protocol.ErrorData)
	if !ok || data.Code != "AGENT_NOT_FOUND" {
		t.Errorf("error data = %#v", resp.Error.Data)
	}
}

func TestServer_MethodNotFound(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.Register(AgentCard{AgentID: "ada"}, nil)

	req := protocol.NewRequest("1", "message/stream", nil)
	resp := srv.Dispatch(context.Background(), "ada", req)
	if resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestServer_InvalidEnvelope(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := srv.Dispatch(context.Background(), "ada", &protocol.Request{JSONRPC: "1.0", Method: "message/send"})
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidRequest {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestServer_InvalidParams(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.Register(AgentCard{AgentID: "ada"}, nil)

	req := protocol.NewRequest("1", protocol.MethodMessageSend, map[string]any{"message": Message{}})
	resp := srv.Dispatch(context.Background(), "ada", req)
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
}

// A frozen agent answers deterministically without reaching its executor.
func TestServer_FrozenGuardRejects(t *testing.T) {
	executed := false
	guard := guardFunc(func(agentID string) GuardResult {
		return GuardResult{Rejected: true, Reason: "migration in FROZEN", EstimatedDowntimeMs: 120000}
	})
	srv, reg, _ := newTestServer(t, WithFrozenGuard(guard))
	reg.Register(AgentCard{AgentID: "ada"}, execFunc(func(context.Context, Message) (Task, error) {
		executed = true
		return Task{}, nil
	}))

	resp := srv.Dispatch(context.Background(), "ada", sendReq("hi"))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	if executed {
		t.Error("executor ran for a frozen agent")
	}
	var task Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatal(err)
	}
	if task.Status.State != store.TaskRejected {
		t.Errorf("state = %s", task.Status.State)
	}
	if len(task.Artifacts) != 1 || task.Artifacts[0].Name != "migration-freeze" {
		t.Fatalf("artifacts = %+v", task.Artifacts)
	}
	data := task.Artifacts[0].Parts[0].Data
	if data["rejected"] != true {
		t.Errorf("artifact data = %v", data)
	}
	if data["estimatedDowntimeMs"].(float64) != 120000 {
		t.Errorf("downtime = %v", data["estimatedDowntimeMs"])
	}
}

func TestServer_TasksGet(t *testing.T) {
	srv, reg, tasks := newTestServer(t)
	reg.Register(AgentCard{AgentID: "ada"}, nil)

	now := time.Now().UTC()
	rec := &store.TaskRecord{
		TaskID: "t1", ContextID: "c1", ToAgentID: "ada",
		State: store.TaskCompleted, ResponseText: "done",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := tasks.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	req := protocol.NewRequest("1", protocol.MethodTasksGet, map[string]any{"id": "t1"})
	resp := srv.Dispatch(context.Background(), "ada", req)
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	var task Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		t.Fatal(err)
	}
	if task.ID != "t1" || task.FirstText() != "done" {
		t.Errorf("task = %+v", task)
	}

	req = protocol.NewRequest("2", protocol.MethodTasksGet, map[string]any{"id": "nope"})
	if resp = srv.Dispatch(context.Background(), "ada", req); resp.Error == nil {
		t.Error("missing task returned a result")
	}
}

func TestServer_TasksCancel(t *testing.T) {
	srv, reg, tasks := newTestServer(t)
	reg.Register(AgentCard{AgentID: "ada"}, nil)
	ctx := context.Background()

	t.Run("running task cancels", func(t *testing.T) {
		rec := &store.TaskRecord{TaskID: "t1", ToAgentID: "ada", State: store.TaskWorking}
		if err := tasks.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
		req := protocol.NewRequest("1", protocol.MethodTasksCancel, map[string]any{"id": "t1"})
		resp := srv.Dispatch(ctx, "ada", req)
		if resp.Error != nil {
			t.Fatalf("error = %+v", resp.Error)
		}
		got, _ := tasks.Get(ctx, "t1")
		if got.State != store.TaskCanceled {
			t.Errorf("state = %s", got.State)
		}
	})

	t.Run("terminal task untouched", func(t *testing.T) {
		rec := &store.TaskRecord{TaskID: "t2", ToAgentID: "ada", State: store.TaskCompleted}
		if err := tasks.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
		req := protocol.NewRequest("1", protocol.MethodTasksCancel, map[string]any{"id": "t2"})
		resp := srv.Dispatch(ctx, "ada", req)
		if resp.Error != nil {
			t.Fatalf("error = %+v", resp.Error)
		}
		got, _ := tasks.Get(ctx, "t2")
		if got.State != store.TaskCompleted {
			t.Errorf("terminal state changed to %s", got.State)
		}
	})
}

func TestServer_MigrationMethodsDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := protocol.NewRequest("1", protocol.MethodMigrationStatus, map[string]any{"migrationId": "m"})
	resp := srv.Dispatch(context.Background(), "node", req)
	if resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
		t.Fatalf("error = %+v", resp.Error)
	}
}
