package mcp

import "encoding/json"

// ProtocolVersion is the MCP protocol version advertised during
// initialization.
const ProtocolVersion = "2025-11-25"

// supportedVersions are the protocol versions this client can speak.
// A server answering with any other version fails the handshake.
var supportedVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// Method names.
const (
	methodInitialize       = "initialize"
	methodInitialized      = "notifications/initialized"
	methodToolsList        = "tools/list"
	methodToolsCall        = "tools/call"
	methodPing             = "ping"
	methodToolsListChanged = "notifications/tools/list_changed"
)

// MethodToolsListChanged is the notification a server sends when its
// tool list has changed and the catalog should be refreshed.
const MethodToolsListChanged = methodToolsListChanged

// Implementation identifies a client or server by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Title   string `json:"title,omitempty"`
	Version string `json:"version"`
}

// ClientCapabilities is advertised in the initialize request. This
// client offers no optional capabilities, so it is always empty.
type ClientCapabilities struct{}

// ServerCapabilities is what the server reported during initialization.
// Each field is present when the server offers that feature.
type ServerCapabilities struct {
	Tools        *ListChangedCapability `json:"tools,omitempty"`
	Resources    *json.RawMessage       `json:"resources,omitempty"`
	Prompts      *ListChangedCapability `json:"prompts,omitempty"`
	Logging      *json.RawMessage       `json:"logging,omitempty"`
	Completions  *json.RawMessage       `json:"completions,omitempty"`
	Experimental json.RawMessage        `json:"experimental,omitempty"`
}

// ListChangedCapability marks a feature whose list may change at run
// time.
type ListChangedCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type listToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type listToolsResult struct {
	Tools      []ToolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Notification is a server-to-client notification delivered to a
// [NotificationHandler].
type Notification struct {
	Server string
	Method string
	Params json.RawMessage
}

// NotificationHandler receives server notifications in wire order on
// the session's reader goroutine. It must not block for long.
type NotificationHandler func(n Notification)
