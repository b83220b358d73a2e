package migration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/flocklabs/flock/internal/a2a"
	"github.com/flocklabs/flock/pkg/protocol"
)

// RequestParams announces an intended migration to the target node.
type RequestParams struct {
	MigrationID  string `json:"migrationId"`
	AgentID      string `json:"agentId"`
	SourceNodeID string `json:"sourceNodeId"`
	TargetNodeID string `json:"targetNodeId"`
	Reason       Reason `json:"reason"`
}

// RequestAck is the target's answer to a migration request.
type RequestAck struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// TransferParams carries the archive to the target.
type TransferParams struct {
	MigrationID string `json:"migrationId"`
	Archive     []byte `json:"-"`
	Checksum    string `json:"checksum"`
}

// RehydrateParams asks the target to rebuild the agent home.
type RehydrateParams struct {
	MigrationID    string  `json:"migrationId"`
	AgentID        string  `json:"agentId"`
	Payload        Payload `json:"payload"`
	TargetHomePath string  `json:"targetHomePath,omitempty"`
	TargetWorkDir  string  `json:"targetWorkDir,omitempty"`
}

// Transport is the remote-dispatch abstraction between the orchestrator
// and the target node.
type Transport interface {
	NotifyRequest(ctx context.Context, params RequestParams) (*RequestAck, error)
	TransferAndVerify(ctx context.Context, params TransferParams) (*VerificationResult, error)
	Rehydrate(ctx context.Context, params RehydrateParams) (*RehydrateResult, error)
}

// InProcessTransport calls the target node's handler directly. Used by
// tests and co-located nodes.
type InProcessTransport struct {
	target *Handler
}

func NewInProcessTransport(target *Handler) *InProcessTransport {
	return &InProcessTransport{target: target}
}

func (t *InProcessTransport) NotifyRequest(ctx context.Context, params RequestParams) (*RequestAck, error) {
	return t.target.handleRequest(ctx, params)
}

func (t *InProcessTransport) TransferAndVerify(ctx context.Context, params TransferParams) (*VerificationResult, error) {
	return t.target.handleTransferAndVerify(ctx, transferWire{
		MigrationID: params.MigrationID,
		Archive:     base64.StdEncoding.EncodeToString(params.Archive),
		Checksum:    params.Checksum,
	})
}

func (t *InProcessTransport) Rehydrate(ctx context.Context, params RehydrateParams) (*RehydrateResult, error) {
	return t.target.handleRehydrate(ctx, params)
}

// HTTPTransport wraps the transport in migration/* JSON-RPC calls to the
// target node's A2A endpoint. Archives cross the wire as base64.
type HTTPTransport struct {
	client   *a2a.Client
	endpoint string
}

func NewHTTPTransport(client *a2a.Client, endpoint string) *HTTPTransport {
	return &HTTPTransport{client: client, endpoint: endpoint}
}

func (t *HTTPTransport) NotifyRequest(ctx context.Context, params RequestParams) (*RequestAck, error) {
	var ack RequestAck
	if err := t.call(ctx, protocol.MethodMigrationRequest, params, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (t *HTTPTransport) TransferAndVerify(ctx context.Context, params TransferParams) (*VerificationResult, error) {
	wire := transferWire{
		MigrationID: params.MigrationID,
		Archive:     base64.StdEncoding.EncodeToString(params.Archive),
		Checksum:    params.Checksum,
	}
	var result VerificationResult
	if err := t.call(ctx, protocol.MethodMigrationTransferAndVerify, wire, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) Rehydrate(ctx context.Context, params RehydrateParams) (*RehydrateResult, error) {
	var result RehydrateResult
	if err := t.call(ctx, protocol.MethodMigrationRehydrate, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) call(ctx context.Context, method string, params, out any) error {
	req := protocol.NewRequest(uuid.NewString(), method, params)
	resp, err := t.client.CallNode(ctx, t.endpoint, "node", req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// transferWire is the base64 shape of migration/transfer-and-verify.
type transferWire struct {
	MigrationID string `json:"migrationId"`
	Archive     string `json:"archive"`
	Checksum    string `json:"checksum"`
}
