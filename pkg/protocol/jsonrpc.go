// Package protocol defines the JSON-RPC 2.0 wire types and method names of
// the Flock peer protocol (A2A and migration surfaces).
package protocol

import "encoding/json"

// JSON-RPC 2.0 error codes. Domain errors (unknown agent, duplicate
// migration, unknown peer) share CodeDomainError and are distinguished by
// message and data.code.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeDomainError    = -32001
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// NewRequest builds a request with a marshaled params payload.
// Marshal errors surface as nil params; callers pass plain structs.
func NewRequest(id string, method string, params interface{}) *Request {
	req := &Request{JSONRPC: "2.0", Method: method}
	if id != "" {
		req.ID, _ = json.Marshal(id)
	}
	if params != nil {
		req.Params, _ = json.Marshal(params)
	}
	return req
}

// NewResult builds a success response for the given request id.
func NewResult(id json.RawMessage, result interface{}) *Response {
	resp := &Response{JSONRPC: "2.0", ID: id}
	if result != nil {
		resp.Result, _ = json.Marshal(result)
	}
	return resp
}

// NewError builds an error response for the given request id.
func NewError(id json.RawMessage, code int, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// ErrorData carries the typed domain error code alongside a JSON-RPC error.
type ErrorData struct {
	Code string `json:"code,omitempty"`
}
