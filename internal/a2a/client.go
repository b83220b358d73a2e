package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flocklabs/flock/pkg/protocol"
)

// Route is a resolver's verdict for one target agent.
type Route struct {
	Local    bool
	Endpoint string
	NodeID   string
}

// Resolver decides local dispatch vs remote HTTP for a target agent.
// Implementations live in the routing package.
type Resolver interface {
	Resolve(agentID string) Route
}

// Client is the outbound A2A façade. Callers stay topology-agnostic:
// the client consults the resolver, then either dispatches in-process to
// the local server or POSTs JSON-RPC to the resolved endpoint.
type Client struct {
	local      *Server
	resolver   Resolver
	httpClient *http.Client
	basePath   string
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithClientHTTP(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func WithClientBasePath(base string) ClientOption {
	return func(cl *Client) { cl.basePath = strings.TrimRight(base, "/") }
}

func NewClient(local *Server, resolver Resolver, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		local:      local,
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		basePath:   "/flock",
		logger:     logger.With("component", "a2a-client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendMessage delivers text plus optional meta to the target agent and
// returns the resulting task.
func (c *Client) SendMessage(ctx context.Context, agentID, text string, meta *FlockMeta) (*Task, error) {
	msg := Build(text, meta, nil)
	return c.Send(ctx, agentID, msg)
}

// Send delivers a prebuilt message.
func (c *Client) Send(ctx context.Context, agentID string, msg Message) (*Task, error) {
	req := protocol.NewRequest(uuid.NewString(), protocol.MethodMessageSend,
		map[string]any{"message": msg})
	resp, err := c.Call(ctx, agentID, req)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// Call routes one JSON-RPC request to wherever the agent lives. JSON-RPC
// level errors come back as *protocol.Error.
func (c *Client) Call(ctx context.Context, agentID string, req *protocol.Request) (*protocol.Response, error) {
	route := c.resolver.Resolve(agentID)
	var resp *protocol.Response
	if route.Local {
		resp = c.local.Dispatch(ctx, agentID, req)
	} else {
		var err error
		resp, err = c.post(ctx, route.Endpoint, agentID, req)
		if err != nil {
			return nil, err
		}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

// CallNode posts a JSON-RPC request straight to a node endpoint, used by
// the migration transport where the target is a node, not an agent.
func (c *Client) CallNode(ctx context.Context, endpoint, agentID string, req *protocol.Request) (*protocol.Response, error) {
	resp, err := c.post(ctx, endpoint, agentID, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, endpoint, agentID string, req *protocol.Request) (*protocol.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(endpoint, "/") + c.basePath + "/a2a/" + agentID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", url, err)
	}
	defer httpResp.Body.Close()

	var resp protocol.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", url, err)
	}
	return &resp, nil
}

// Discover fetches a remote node's agent directory.
func (c *Client) Discover(ctx context.Context, endpoint string) ([]AgentCard, error) {
	url := strings.TrimRight(endpoint, "/") + c.basePath + "/.well-known/agent-card.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", url, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discover %s: status %d", url, httpResp.StatusCode)
	}
	var body struct {
		Agents []AgentCard `json:"agents"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	return body.Agents, nil
}
