package mcp

import "context"

// Frame is one unit read from a transport: either a decoded message or
// a framing error for a line that could not be decoded. Framing errors
// are delivered rather than dropped so the reader can log them.
type Frame struct {
	Msg *Message
	Err error
}

// Transport carries JSON-RPC messages between the client and one MCP
// server. Implementations must allow WriteMessage to be called from
// multiple goroutines; each message is written atomically.
//
// Frames returns the inbound stream. It is read by a single goroutine
// and is closed when the underlying stream ends.
type Transport interface {
	WriteMessage(ctx context.Context, msg *Message) error
	Frames() <-chan Frame
	Close() error
}

// Dialer establishes a transport. A [Client] calls it once from
// Connect.
type Dialer func(ctx context.Context) (Transport, error)
