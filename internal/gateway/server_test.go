package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/internal/audit"
	"github.com/flocklabs/flock/internal/bus"
	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/pkg/protocol"
)

func newGatewayFixture(t *testing.T, token string) (string, *Server, *bus.Bus, *store.Stores) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stores := store.NewMemoryStores()
	events := bus.New()

	cards := a2a.NewCardRegistry()
	cards.Register(a2a.AgentCard{AgentID: "ada"}, nil)
	cards.Register(a2a.AgentCard{AgentID: "sysadmin"}, nil)

	srv := NewServer(Deps{
		NodeID: "node-a",
		Token:  token,
		Cards:  cards,
		Audit:  audit.NewLogger(stores.Audit, logger),
		Events: events,
		Homes:  stores.Homes,
	}, logger)
	srv.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	base, err := srv.StartTestServer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return base, srv, events, stores
}

func dialWS(t *testing.T, base, query string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(base, "http://", "ws://", 1) + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req *protocol.Request) *protocol.Response {
	t.Helper()
	if err := conn.WriteJSON(req); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp protocol.Response
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	return &resp
}

func TestGateway_Health(t *testing.T) {
	base, _, _, _ := newGatewayFixture(t, "")

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["nodeId"] != "node-a" {
		t.Errorf("health = %v", body)
	}
}

func TestGateway_TokenRequired(t *testing.T) {
	base, _, _, _ := newGatewayFixture(t, "secret")

	url := strings.Replace(base, "http://", "ws://", 1) + "/ws"
	if _, _, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("handshake without token succeeded")
	}
	if _, _, err := websocket.DefaultDialer.Dial(url+"?token=wrong", nil); err == nil {
		t.Fatal("handshake with wrong token succeeded")
	}

	conn := dialWS(t, base, "?token=secret")
	resp := roundTrip(t, conn, protocol.NewRequest("1", protocol.MethodGatewayStatus, nil))
	if resp.Error != nil {
		t.Errorf("status with valid token = %+v", resp.Error)
	}
}

func TestGateway_Status(t *testing.T) {
	base, _, _, stores := newGatewayFixture(t, "")
	ctx := context.Background()

	now := time.Now().UTC()
	for _, h := range []*store.Home{
		{HomeID: "ada@node-a", AgentID: "ada", NodeID: "node-a", State: store.HomeActive, CreatedAt: now, UpdatedAt: now},
		{HomeID: "bob@node-a", AgentID: "bob", NodeID: "node-a", State: store.HomeIdle, CreatedAt: now, UpdatedAt: now},
	} {
		if err := stores.Homes.Insert(ctx, h); err != nil {
			t.Fatal(err)
		}
	}

	conn := dialWS(t, base, "")
	resp := roundTrip(t, conn, protocol.NewRequest("1", protocol.MethodGatewayStatus, nil))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	var result StatusResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.NodeID != "node-a" || len(result.Agents) != 2 {
		t.Errorf("status = %+v", result)
	}
	if result.HomeStates["ACTIVE"] != 1 || result.HomeStates["IDLE"] != 1 {
		t.Errorf("home states = %v", result.HomeStates)
	}
}

func TestGateway_StatusAuditLevels(t *testing.T) {
	base, srv, _, _ := newGatewayFixture(t, "")
	ctx := context.Background()

	srv.audit.Append(ctx, audit.Entry{AgentID: "ada", Action: "a2a-message", Level: store.AuditGreen})
	srv.audit.Append(ctx, audit.Entry{AgentID: "ada", Action: "a2a-message", Level: store.AuditGreen})
	srv.audit.Append(ctx, audit.Entry{AgentID: "bob", Action: "migration.failed", Level: store.AuditRed})

	conn := dialWS(t, base, "")
	resp := roundTrip(t, conn, protocol.NewRequest("1", protocol.MethodGatewayStatus, nil))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	var result StatusResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.AuditLevels[store.AuditGreen] != 2 || result.AuditLevels[store.AuditRed] != 1 {
		t.Errorf("audit levels = %v", result.AuditLevels)
	}
}

func TestGateway_AuditTail(t *testing.T) {
	base, srv, _, _ := newGatewayFixture(t, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		srv.audit.Append(ctx, audit.Entry{AgentID: "ada", Action: "a2a-message", Level: store.AuditGreen})
	}
	srv.audit.Append(ctx, audit.Entry{AgentID: "bob", Action: "migration.failed", Level: store.AuditRed})

	conn := dialWS(t, base, "")
	resp := roundTrip(t, conn, protocol.NewRequest("1", protocol.MethodGatewayAudit,
		auditTailParams{Level: "RED"}))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	var entries []*store.AuditEntry
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].AgentID != "bob" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestGateway_MethodNotFound(t *testing.T) {
	base, _, _, _ := newGatewayFixture(t, "")
	conn := dialWS(t, base, "")
	resp := roundTrip(t, conn, protocol.NewRequest("1", "nonsense", nil))
	if resp.Error == nil || resp.Error.Code != protocol.CodeMethodNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestGateway_EventPush(t *testing.T) {
	base, _, events, _ := newGatewayFixture(t, "")
	conn := dialWS(t, base, "")

	// A throwaway query proves the connection is registered before the
	// broadcast fires.
	roundTrip(t, conn, protocol.NewRequest("1", protocol.MethodGatewayStatus, nil))

	events.Broadcast(bus.Event{Name: protocol.EventMigration, Payload: map[string]any{"phase": "FROZEN"}})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame["kind"] != "event" || frame["event"] != protocol.EventMigration {
		t.Errorf("frame = %v", frame)
	}
	payload, ok := frame["payload"].(map[string]any)
	if !ok || payload["phase"] != "FROZEN" {
		t.Errorf("payload = %v", frame["payload"])
	}
}
