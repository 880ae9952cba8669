// Package mcp implements the client side of the Model Context Protocol.
//
// A [Client] launches an MCP server as a subprocess through a
// [Transport], performs the initialize handshake, discovers tools via
// tools/list and invokes them via tools/call. Messages are JSON-RPC 2.0,
// one object per line on the subprocess's stdin and stdout.
//
// Requests from many goroutines share one session. Each request gets
// a unique id and waits on its own slot; a single reader goroutine
// routes responses to those slots, so replies may arrive in any order.
// Server notifications are handed to the configured handler in wire
// order.
//
// Discovered tools can be bridged into a tools.Registry with
// [BridgeTools], and results are rendered for a language model with
// [Format].
package mcp
