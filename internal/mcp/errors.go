package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by [Client] operations. Match with errors.Is.
var (
	// ErrInvalidResponse means the server sent a response that is not
	// a valid JSON-RPC reply (both or neither of result and error, or a
	// result missing required fields).
	ErrInvalidResponse = errors.New("mcp: invalid response")

	// ErrNotInitialized is returned when an operation that requires a
	// completed handshake is attempted before it.
	ErrNotInitialized = errors.New("mcp: session not initialized")

	// ErrTimeout is returned when the caller's context ends before the
	// response arrives. The wrapped error carries the context cause.
	ErrTimeout = errors.New("mcp: request timed out")

	// ErrSessionClosed is returned for requests rejected because the
	// session was closed by the host.
	ErrSessionClosed = errors.New("mcp: session closed")

	// ErrInvalidPhase is returned when Connect or Initialize is called
	// in a phase that does not allow it.
	ErrInvalidPhase = errors.New("mcp: operation not allowed in current phase")
)

// TransportErrorKind classifies a [TransportError].
type TransportErrorKind int

// Transport failure kinds.
const (
	SpawnFailed TransportErrorKind = iota + 1
	WriteFailed
	MalformedFrame
	TransportClosed
)

func (k TransportErrorKind) String() string {
	switch k {
	case SpawnFailed:
		return "spawn failed"
	case WriteFailed:
		return "write failed"
	case MalformedFrame:
		return "malformed frame"
	case TransportClosed:
		return "transport closed"
	default:
		return "unknown"
	}
}

// TransportError reports a failure of the underlying byte stream.
// errors.Is matches another *TransportError with the same Kind, or any
// *TransportError when the target's Kind is zero.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "mcp transport: " + e.Kind.String()
	}
	return fmt.Sprintf("mcp transport: %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return t.Kind == 0 || t.Kind == e.Kind
}

// RPCError is a JSON-RPC error object returned by the server. Code,
// Message and Data are preserved exactly as received.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ToolNotFoundError is returned by CallTool when the populated catalog
// has no tool with the requested name. No request is sent.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("mcp: tool %q not found", e.Name)
}

// ToolExecutionError reports a tools/call result flagged isError. The
// server's content is carried so hosts can show it to the model.
type ToolExecutionError struct {
	Tool    string
	Message string
	Content []Content
}

func (e *ToolExecutionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("MCP tool %s returned error", e.Tool)
	}
	return fmt.Sprintf("MCP tool %s returned error: %s", e.Tool, e.Message)
}

// InitializationError reports a failed handshake. The session is
// closed when one is returned.
type InitializationError struct {
	Reason string
	Err    error
}

func (e *InitializationError) Error() string {
	if e.Err == nil {
		return "mcp initialize: " + e.Reason
	}
	return fmt.Sprintf("mcp initialize: %s: %v", e.Reason, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// SerializationError reports a value that could not be encoded as
// request params or a result that could not be decoded.
type SerializationError struct {
	Detail string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("mcp serialization: %s: %v", e.Detail, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// ErrorKind returns a short stable label for err, suitable for logs,
// metrics and the call log. It returns "" for a nil error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var (
		transportErr *TransportError
		rpcErr       *RPCError
		notFound     *ToolNotFoundError
		execErr      *ToolExecutionError
		initErr      *InitializationError
		serErr       *SerializationError
	)

	switch {
	case errors.As(err, &execErr):
		return "tool_execution"
	case errors.As(err, &notFound):
		return "tool_not_found"
	case errors.As(err, &initErr):
		return "initialization"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.As(err, &rpcErr):
		return "rpc"
	case errors.As(err, &serErr):
		return "serialization"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "other"
	}
}
