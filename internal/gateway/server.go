// Package gateway serves the admin WebSocket surface: operator clients
// connect, issue JSON-RPC queries against the node, and receive pushed
// audit, migration, and tick events.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/internal/audit"
	"github.com/flocklabs/flock/internal/bus"
	"github.com/flocklabs/flock/internal/migration"
	"github.com/flocklabs/flock/internal/registry"
	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/pkg/protocol"
)

const defaultAuditTailLimit = 50

// Client is one connected operator session.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Server is the admin gateway.
type Server struct {
	nodeID string
	token  string

	cards  *a2a.CardRegistry
	nodes  *registry.NodeRegistry
	engine *migration.Engine
	audit  *audit.Logger
	events bus.EventPublisher
	homes  store.HomeStore

	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client

	httpServer *http.Server
}

// Deps wires the node surfaces the gateway exposes.
type Deps struct {
	NodeID string
	Token  string
	Cards  *a2a.CardRegistry
	Nodes  *registry.NodeRegistry
	Engine *migration.Engine
	Audit  *audit.Logger
	Events bus.EventPublisher
	Homes  store.HomeStore
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		nodeID: deps.NodeID,
		token:  deps.Token,
		cards:  deps.Cards,
		nodes:  deps.Nodes,
		engine: deps.Engine,
		audit:  deps.Audit,
		events: deps.Events,
		homes:  deps.Homes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "gateway"),
		clients: make(map[string]*Client),
	}
}

// Handler returns the gateway routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start serves on addr until ctx is cancelled, then shuts down and
// notifies connected clients.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		s.BroadcastEvent(bus.Event{Name: protocol.EventShutdown})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	s.logger.Info("gateway listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartTestServer binds an ephemeral loopback port and returns the
// base URL. Used by tests.
func (s *Server) StartTestServer(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	go func() { _ = s.httpServer.Serve(ln) }()
	return "http://" + ln.Addr().String(), nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"nodeId": s.nodeID,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		got := r.URL.Query().Get("token")
		if got == "" {
			got = r.Header.Get("X-Flock-Token")
		}
		if got != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.registerClient(client)
	go s.writeLoop(client)
	s.readLoop(r.Context(), client)
}

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("client connected", "client_id", c.id)
}

func (s *Server) unregisterClient(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
	s.logger.Debug("client disconnected", "client_id", c.id)
}

// SubscribeEvents attaches the gateway to the node event bus so every
// broadcast event is pushed to connected clients.
func (s *Server) SubscribeEvents() {
	if s.events == nil {
		return
	}
	s.events.Subscribe("gateway", func(e bus.Event) {
		s.BroadcastEvent(e)
	})
}

// BroadcastEvent pushes one event frame to every connected client. Slow
// clients that cannot keep up are dropped.
func (s *Server) BroadcastEvent(e bus.Event) {
	frame, err := json.Marshal(map[string]any{
		"kind":    "event",
		"event":   e.Name,
		"payload": e.Payload,
	})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.logger.Warn("dropping slow client", "client_id", id)
		}
	}
}

func (s *Server) writeLoop(c *Client) {
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) readLoop(ctx context.Context, c *Client) {
	defer s.unregisterClient(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.reply(c, protocol.NewError(nil, protocol.CodeInvalidRequest, "invalid request", nil))
			continue
		}
		s.reply(c, s.dispatch(ctx, &req))
	}
}

func (s *Server) reply(c *Client, resp *protocol.Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (s *Server) dispatch(ctx context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case protocol.MethodGatewayStatus:
		return s.handleStatus(ctx, req)
	case protocol.MethodGatewayMigrations:
		return s.handleMigrations(req)
	case protocol.MethodGatewayAudit:
		return s.handleAuditTail(ctx, req)
	default:
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// StatusResult is the status method payload.
type StatusResult struct {
	NodeID      string                   `json:"nodeId"`
	Agents      []string                 `json:"agents"`
	Nodes       []registry.NodeEntry     `json:"nodes,omitempty"`
	HomeStates  map[string]int           `json:"homeStates,omitempty"`
	AuditLevels map[store.AuditLevel]int `json:"auditLevels,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, req *protocol.Request) *protocol.Response {
	result := StatusResult{NodeID: s.nodeID}
	if s.cards != nil {
		result.Agents = s.cards.AgentIDs()
	}
	if s.nodes != nil {
		result.Nodes = s.nodes.List()
	}
	if s.audit != nil {
		counts, err := s.audit.CountByLevel(ctx, nil)
		if err != nil {
			return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error(), nil)
		}
		result.AuditLevels = counts
	}
	if s.homes != nil {
		homes, err := s.homes.List(ctx, store.HomeFilter{})
		if err != nil {
			return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error(), nil)
		}
		counts := make(map[string]int)
		for _, h := range homes {
			counts[string(h.State)]++
		}
		result.HomeStates = counts
	}
	return protocol.NewResult(req.ID, result)
}

func (s *Server) handleMigrations(req *protocol.Request) *protocol.Response {
	if s.engine == nil {
		return protocol.NewResult(req.ID, []*migration.Ticket{})
	}
	return protocol.NewResult(req.ID, s.engine.ListActive())
}

type auditTailParams struct {
	AgentID string `json:"agentId,omitempty"`
	Level   string `json:"level,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (s *Server) handleAuditTail(ctx context.Context, req *protocol.Request) *protocol.Response {
	if s.audit == nil {
		return protocol.NewResult(req.ID, []*store.AuditEntry{})
	}
	var params auditTailParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInvalidParams, "invalid params", nil)
		}
	}
	filter := store.AuditFilter{Limit: params.Limit}
	if filter.Limit <= 0 {
		filter.Limit = defaultAuditTailLimit
	}
	if params.AgentID != "" {
		filter.AgentID = &params.AgentID
	}
	if params.Level != "" {
		level := store.AuditLevel(params.Level)
		filter.Level = &level
	}
	entries, err := s.audit.Query(ctx, filter)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.NewResult(req.ID, entries)
}
