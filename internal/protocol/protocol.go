// Package protocol defines the typed request/response vocabulary exchanged
// over the daemon socket. Framing lives in internal/wire; this package only
// knows envelope shapes, method names, and the error taxonomy.
package protocol

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Version is the protocol version embedded in every request and response.
// A server that receives a request with any other version answers
// BAD_REQUEST without looking at method or params.
const Version = 1

// Method names. One request yields exactly one response; there is no
// streaming and no server-initiated traffic.
const (
	MethodDaemonStatus = "daemon.status"
	MethodDaemonStop   = "daemon.stop"
	MethodToolList     = "tool.list"
	MethodToolInvoke   = "tool.invoke"
	MethodToolHistory  = "tool.history"
	MethodBridgeList   = "bridge.list"
	MethodBridgeInvoke = "bridge.invoke"
)

// Error codes form a closed enum. Handler failures inside an invoked tool
// are business results and travel inside Result, not here; these codes cover
// the machinery only.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotFound      = "NOT_FOUND"
	CodeAmbiguousTool = "AMBIGUOUS_TOOL"
	CodeToolFailed    = "TOOL_FAILED"
	CodeInternal      = "INTERNAL"
)

// Request is the client-to-daemon envelope.
type Request struct {
	Version int             `json:"version"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the daemon-to-client envelope. Exactly one of Result or Error
// is set.
type Response struct {
	Version int             `json:"version"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a structured protocol-level failure.
type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so protocol errors can travel up
// ordinary error returns.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRequest builds a request with a fresh correlation ID.
func NewRequest(method string, params any) (Request, error) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Request{}, fmt.Errorf("marshal params: %w", err)
		}
		raw = data
	}
	return Request{
		Version: Version,
		ID:      NewID(),
		Method:  method,
		Params:  raw,
	}, nil
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new ULID correlation token. ULIDs sort by creation time,
// which keeps daemon debug logs readable.
func NewID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// ResultResponse wraps a marshaled result for the given request ID.
func ResultResponse(id string, result any) (Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("marshal result: %w", err)
	}
	return Response{Version: Version, ID: id, Result: data}, nil
}

// ErrorResponse builds an error response for the given request ID.
func ErrorResponse(id, code, message string) Response {
	return Response{
		Version: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// ErrorResponseData builds an error response carrying structured data,
// e.g. the candidate list for an ambiguous tool name.
func ErrorResponseData(id, code, message string, data any) Response {
	resp := ErrorResponse(id, code, message)
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			resp.Error.Data = raw
		}
	}
	return resp
}

// StatusResult is the payload returned by daemon.status.
type StatusResult struct {
	PID           int       `json:"pid"`
	SocketPath    string    `json:"socketPath"`
	LogPath       string    `json:"logPath,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds int64     `json:"uptimeSeconds"`
	ToolCount     int       `json:"toolCount"`
	WorkspaceKey  string    `json:"workspaceKey"`
	WorkspaceRoot string    `json:"workspaceRoot"`
	Version       string    `json:"version"`
	InFlight      int       `json:"inFlight"`
	ActivityTotal int       `json:"activityTotal"`
}

// StopResult acknowledges a daemon.stop request. The daemon flushes this
// response before it begins shutting down.
type StopResult struct {
	Stopping bool `json:"stopping"`
}

// ToolListEntry is one row of a tool.list response.
type ToolListEntry struct {
	Name        string `json:"name"`
	Workflow    string `json:"workflow"`
	Description string `json:"description,omitempty"`
	Stateful    bool   `json:"stateful"`
}

// ToolInvokeParams are the parameters of tool.invoke and bridge.invoke.
type ToolInvokeParams struct {
	Tool string            `json:"tool"`
	Args map[string]string `json:"args,omitempty"`
}

// ToolInvokeResult carries a handler's outcome. IsError marks a business
// failure produced by the tool itself; protocol-level failures use the
// Response.Error channel instead.
type ToolInvokeResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// ToolHistoryParams select rows from the invocation history.
type ToolHistoryParams struct {
	Tool  string `json:"tool,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// ToolHistoryEntry is one recorded invocation.
type ToolHistoryEntry struct {
	ID         int64     `json:"id"`
	Tool       string    `json:"tool"`
	Workflow   string    `json:"workflow"`
	Args       string    `json:"args,omitempty"`
	IsError    bool      `json:"isError"`
	DurationMs int64     `json:"durationMs"`
	InvokedAt  time.Time `json:"invokedAt"`
}

// BridgeListEntry describes one dynamically discovered bridged tool.
type BridgeListEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
}
