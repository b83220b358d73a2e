package a2a

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/flocklabs/flock/internal/store"
)

// staticResolver routes from a fixed table; unknown agents resolve local.
type staticResolver struct {
	remote map[string]string
}

func (r staticResolver) Resolve(agentID string) Route {
	if endpoint, ok := r.remote[agentID]; ok {
		return Route{Endpoint: endpoint, NodeID: "remote"}
	}
	return Route{Local: true}
}

func echoExecutor(prefix string) Executor {
	return execFunc(func(_ context.Context, msg Message) (Task, error) {
		return NewTask("t", "c", store.TaskCompleted,
			TextArtifact("a", "response", prefix+msg.Text())), nil
	})
}

func TestClient_LocalDispatch(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	reg.Register(AgentCard{AgentID: "ada"}, echoExecutor("local: "))

	client := NewClient(srv, staticResolver{}, testLogger())
	task, err := client.SendMessage(context.Background(), "ada", "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if task.FirstText() != "local: hi" {
		t.Errorf("reply = %q", task.FirstText())
	}
}

// A message to an agent on another node crosses HTTP and lands on that
// node's executor, envelope metadata intact.
func TestClient_RemoteDispatch(t *testing.T) {
	remoteSrv, remoteReg, _ := newTestServer(t)
	remoteReg.Register(AgentCard{AgentID: "bob"}, execFunc(func(_ context.Context, msg Message) (Task, error) {
		meta := msg.Meta()
		if meta == nil || meta.FromHome != "ada@node-a" {
			t.Errorf("meta on remote side = %+v", meta)
		}
		return NewTask("t", "c", store.TaskCompleted,
			TextArtifact("a", "response", "remote: "+msg.Text())), nil
	}))
	ts := httptest.NewServer(remoteSrv.Handler())
	defer ts.Close()

	localSrv, _, _ := newTestServer(t)
	client := NewClient(localSrv, staticResolver{remote: map[string]string{"bob": ts.URL}}, testLogger())

	task, err := client.SendMessage(context.Background(), "bob", "hello",
		&FlockMeta{FlockType: TypeTask, FromHome: "ada@node-a"})
	if err != nil {
		t.Fatal(err)
	}
	if task.FirstText() != "remote: hello" {
		t.Errorf("reply = %q", task.FirstText())
	}
}

func TestClient_RemoteErrorSurfaces(t *testing.T) {
	remoteSrv, _, _ := newTestServer(t)
	ts := httptest.NewServer(remoteSrv.Handler())
	defer ts.Close()

	localSrv, _, _ := newTestServer(t)
	client := NewClient(localSrv, staticResolver{remote: map[string]string{"ghost": ts.URL}}, testLogger())

	if _, err := client.SendMessage(context.Background(), "ghost", "hi", nil); err == nil {
		t.Fatal("unknown remote agent did not error")
	}
}

func TestClient_Discover(t *testing.T) {
	remoteSrv, remoteReg, _ := newTestServer(t)
	remoteReg.Register(AgentCard{
		AgentID: "bob", Name: "Bob",
		Flock: FlockInfo{NodeID: "node-b", Role: RoleWorker},
	}, nil)
	ts := httptest.NewServer(remoteSrv.Handler())
	defer ts.Close()

	localSrv, _, _ := newTestServer(t)
	client := NewClient(localSrv, staticResolver{}, testLogger())

	cards, err := client.Discover(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 || cards[0].AgentID != "bob" {
		t.Fatalf("cards = %+v", cards)
	}
	if cards[0].Flock.NodeID != "node-b" || cards[0].Flock.Role != RoleWorker {
		t.Errorf("flock sidecar = %+v", cards[0].Flock)
	}
}
