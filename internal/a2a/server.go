package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/flocklabs/flock/internal/store"
	"github.com/flocklabs/flock/pkg/protocol"
)

// GuardResult is the frozen guard's verdict for one agent.
type GuardResult struct {
	Rejected            bool   `json:"rejected"`
	Reason              string `json:"reason,omitempty"`
	EstimatedDowntimeMs int64  `json:"estimatedDowntimeMs,omitempty"`
}

// FrozenGuard rejects messages to agents mid-migration.
type FrozenGuard interface {
	Check(agentID string) GuardResult
}

// MigrationHandler serves the migration/* server-level methods.
type MigrationHandler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// DomainError carries a typed code into a JSON-RPC -32001 error.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

func NewDomainError(code, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Server is the JSON-RPC front-end of one node.
type Server struct {
	nodeID    string
	basePath  string
	registry  *CardRegistry
	tasks     store.TaskStore
	guard     FrozenGuard
	migration MigrationHandler
	limiter   *rate.Limiter
	logger    *slog.Logger
}

type ServerOption func(*Server)

func WithFrozenGuard(g FrozenGuard) ServerOption {
	return func(s *Server) { s.guard = g }
}

func WithMigrationHandler(h MigrationHandler) ServerOption {
	return func(s *Server) { s.migration = h }
}

// WithRateLimit bounds inbound requests per second with the given burst.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func NewServer(nodeID, basePath string, registry *CardRegistry, tasks store.TaskStore,
	logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if basePath == "" {
		basePath = "/flock"
	}
	s := &Server{
		nodeID:   nodeID,
		basePath: strings.TrimRight(basePath, "/"),
		registry: registry,
		tasks:    tasks,
		logger:   logger.With("component", "a2a-server", "node_id", nodeID),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Registry exposes the card registry for boot wiring and resolvers.
func (s *Server) Registry() *CardRegistry { return s.registry }

// NodeID is this server's node identity.
func (s *Server) NodeID() string { return s.nodeID }

// Handler returns the HTTP mux for the A2A surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.basePath+"/.well-known/agent-card.json", s.handleDirectory)
	mux.HandleFunc(s.basePath+"/a2a/", s.handleAgent)
	return mux
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cards := s.registry.Cards()
	agents := make([]map[string]any, 0, len(cards))
	for _, c := range cards {
		agents = append(agents, cardEntry(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, s.basePath+"/a2a/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if r.Method == http.MethodGet && strings.HasSuffix(rest, "/agent-card.json") {
		agentID := strings.TrimSuffix(rest, "/agent-card.json")
		card, ok := s.registry.Card(agentID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, cardEntry(card))
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	agentID := strings.TrimSuffix(rest, "/")
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, protocol.NewError(nil, protocol.CodeInvalidRequest, "malformed JSON-RPC request", nil))
		return
	}
	resp := s.Dispatch(r.Context(), agentID, &req)
	writeJSON(w, http.StatusOK, resp)
}

// Dispatch serves one JSON-RPC request for the named agent. It is the
// entry point for both HTTP and in-process delivery.
func (s *Server) Dispatch(ctx context.Context, agentID string, req *protocol.Request) *protocol.Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "invalid JSON-RPC envelope", nil)
	}

	if strings.HasPrefix(req.Method, protocol.MigrationMethodPrefix) {
		return s.dispatchMigration(ctx, req)
	}

	if !s.registry.Has(agentID) {
		return protocol.NewError(req.ID, protocol.CodeDomainError,
			fmt.Sprintf("unknown agent %q", agentID), protocol.ErrorData{Code: "AGENT_NOT_FOUND"})
	}

	switch req.Method {
	case protocol.MethodMessageSend:
		return s.dispatchMessage(ctx, agentID, req)
	case protocol.MethodTasksGet:
		return s.dispatchTasksGet(ctx, req)
	case protocol.MethodTasksCancel:
		return s.dispatchTasksCancel(ctx, req)
	default:
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method %q not supported", req.Method), nil)
	}
}

func (s *Server) dispatchMessage(ctx context.Context, agentID string, req *protocol.Request) *protocol.Response {
	var params struct {
		Message Message `json:"message"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "message/send requires a message with parts", nil)
	}

	// Agents mid-migration answer with a deterministic error artifact
	// instead of touching the session layer.
	if s.guard != nil {
		if verdict := s.guard.Check(agentID); verdict.Rejected {
			task := NewTask("", "", store.TaskRejected, DataArtifact("frozen", "migration-freeze", map[string]any{
				"rejected":            true,
				"reason":              verdict.Reason,
				"estimatedDowntimeMs": verdict.EstimatedDowntimeMs,
			}))
			return protocol.NewResult(req.ID, task)
		}
	}

	exec, ok := s.registry.Executor(agentID)
	if !ok {
		return protocol.NewError(req.ID, protocol.CodeDomainError,
			fmt.Sprintf("agent %q has no executor", agentID), protocol.ErrorData{Code: "AGENT_NOT_FOUND"})
	}
	task, err := exec.Execute(ctx, params.Message)
	if err != nil {
		// The failed task shape is still the caller-visible result.
		s.logger.Warn("executor failed", "agent_id", agentID, "error", err)
	}
	return protocol.NewResult(req.ID, task)
}

func (s *Server) dispatchTasksGet(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "tasks/get requires id", nil)
	}
	rec, err := s.tasks.Get(ctx, params.ID)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeDomainError,
			fmt.Sprintf("task %q not found", params.ID), protocol.ErrorData{Code: "TASK_NOT_FOUND"})
	}
	task := NewTask(rec.TaskID, rec.ContextID, rec.State)
	if rec.ResponseText != "" {
		task.Artifacts = []Artifact{TextArtifact(rec.TaskID, "response", rec.ResponseText)}
	}
	return protocol.NewResult(req.ID, task)
}

func (s *Server) dispatchTasksCancel(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "tasks/cancel requires id", nil)
	}
	rec, err := s.tasks.Get(ctx, params.ID)
	if err != nil {
		return protocol.NewError(req.ID, protocol.CodeDomainError,
			fmt.Sprintf("task %q not found", params.ID), protocol.ErrorData{Code: "TASK_NOT_FOUND"})
	}
	switch rec.State {
	case store.TaskCompleted, store.TaskFailed, store.TaskCanceled:
		// Terminal tasks stay as they are.
	default:
		rec.State = store.TaskCanceled
		if err := s.tasks.Update(ctx, rec); err != nil {
			return protocol.NewError(req.ID, protocol.CodeInternalError, "cancel failed", nil)
		}
	}
	return protocol.NewResult(req.ID, NewTask(rec.TaskID, rec.ContextID, rec.State))
}

func (s *Server) dispatchMigration(ctx context.Context, req *protocol.Request) *protocol.Response {
	if s.migration == nil {
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, "migration methods not enabled", nil)
	}
	result, err := s.migration.Handle(ctx, req.Method, req.Params)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return protocol.NewError(req.ID, protocol.CodeDomainError, domainErr.Message,
				protocol.ErrorData{Code: domainErr.Code})
		}
		return protocol.NewError(req.ID, protocol.CodeInternalError, err.Error(), nil)
	}
	return protocol.NewResult(req.ID, result)
}

func cardEntry(c AgentCard) map[string]any {
	raw, _ := json.Marshal(c)
	entry := map[string]any{}
	_ = json.Unmarshal(raw, &entry)
	entry["id"] = c.AgentID
	return entry
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
