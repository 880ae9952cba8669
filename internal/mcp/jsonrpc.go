package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// jsonrpcVersion is the JSON-RPC protocol version used by MCP.
const jsonrpcVersion = "2.0"

// Standard JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// ID is a JSON-RPC request id. The client issues string ids; ids
// received from the server keep their wire form (string or number) so
// replies echo them unchanged.
type ID struct {
	value   string
	numeric bool
}

// StringID returns a string-typed id.
func StringID(s string) ID { return ID{value: s} }

// String returns the id text used as a correlation key. A numeric id
// and a string id with the same digits share a key.
func (id ID) String() string { return id.value }

// MarshalJSON encodes the id in its original wire form.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID{value: s}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer: %w", err)
	}
	*id = ID{value: n.String(), numeric: true}
	return nil
}

// Message is a single JSON-RPC 2.0 envelope. One struct carries all
// three shapes: a request has ID and Method, a notification has Method
// only, a response has ID and exactly one of Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// MessageKind classifies a decoded [Message].
type MessageKind int

// Message kinds.
const (
	KindInvalid MessageKind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Kind reports which envelope shape m has. A message with an id but no
// method is a response regardless of whether its result/error pair is
// well-formed; use [Message.ValidResponse] to check that.
func (m *Message) Kind() MessageKind {
	switch {
	case m.JSONRPC != jsonrpcVersion:
		return KindInvalid
	case m.ID != nil && m.Method != "":
		return KindRequest
	case m.ID == nil && m.Method != "":
		return KindNotification
	case m.ID != nil:
		return KindResponse
	default:
		return KindInvalid
	}
}

// ValidResponse reports whether a response carries exactly one of
// result and error.
func (m *Message) ValidResponse() bool {
	return (len(m.Result) > 0) != (m.Error != nil)
}

// NewRequest creates a JSON-RPC 2.0 request with the given id, method
// and already-encoded params.
func NewRequest(id ID, method string, params json.RawMessage) *Message {
	return &Message{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

// NewNotification creates a JSON-RPC 2.0 notification.
func NewNotification(method string, params json.RawMessage) *Message {
	return &Message{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// NewResult creates a success response for the request with id.
func NewResult(id ID, result json.RawMessage) *Message {
	return &Message{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response for the request with id.
func NewErrorResponse(id ID, code int, message string) *Message {
	return &Message{
		JSONRPC: jsonrpcVersion,
		ID:      &id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// DecodeMessage parses one frame and checks that it is a JSON-RPC 2.0
// envelope of a recognizable shape.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.JSONRPC != jsonrpcVersion {
		return nil, fmt.Errorf("decode frame: unsupported jsonrpc version %q", msg.JSONRPC)
	}
	if msg.Kind() == KindInvalid {
		return nil, fmt.Errorf("decode frame: message has neither id nor method")
	}
	return &msg, nil
}

// encodeParams marshals v for use as request params. A nil value
// yields no params field.
func encodeParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Detail: "encode params", Err: err}
	}
	return data, nil
}
