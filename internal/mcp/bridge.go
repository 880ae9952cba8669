package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/thane-mcp/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// CallRecord describes one bridged tool invocation after it finished.
type CallRecord struct {
	Server    string
	SessionID string
	Tool      string
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// CallObserver is told about every bridged tool invocation.
type CallObserver func(ctx context.Context, rec CallRecord)

// BridgeOptions controls which tools BridgeTools registers.
//
//   - If Include is non-empty, only tools whose MCP names appear in it are registered.
//   - Otherwise tools whose MCP names appear in Exclude are skipped.
//   - If both are empty, all tools are registered.
type BridgeOptions struct {
	Include  []string
	Exclude  []string
	Observer CallObserver
	Logger   *slog.Logger
}

// BridgeTools refreshes the client's catalog and registers each tool on
// the registry under "mcp_{server}_{tool}" so it cannot collide with
// native tools. It returns the registry names it registered, in catalog
// order.
func BridgeTools(ctx context.Context, client *Client, registry *tools.Registry, opts BridgeOptions) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpTools, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools from %s: %w", client.Name(), err)
	}

	includeSet := toSet(opts.Include)
	excludeSet := toSet(opts.Exclude)

	names := make([]string, 0, len(mcpTools))
	for _, td := range mcpTools {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}

		name := ToolName(client.Name(), td.Name)
		registry.Register(bridgeTool(client, name, td, opts.Observer))
		names = append(names, name)

		logger.Debug("bridged MCP tool",
			"mcp_name", td.Name,
			"registry_name", name,
			"server", client.Name(),
		)
	}

	return names, nil
}

// ToolName generates a namespaced registry name from an MCP server
// name and tool name. Both components are sanitized to contain only
// lowercase alphanumeric characters and underscores.
func ToolName(serverName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(mcpToolName))
}

// bridgeTool creates a registry tool that proxies calls to an MCP server.
func bridgeTool(client *Client, name string, td ToolDescriptor, observe CallObserver) *tools.Tool {
	mcpName := td.Name

	description := td.Description
	if description == "" {
		description = td.Title
	}

	return &tools.Tool{
		Name:        name,
		Description: description,
		Parameters:  schemaMap(td.InputSchema),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			started := time.Now()
			res, err := client.InvokeTool(ctx, mcpName, args)
			if observe != nil {
				observe(ctx, CallRecord{
					Server:    client.Name(),
					SessionID: client.SessionID(),
					Tool:      mcpName,
					Started:   started,
					Duration:  time.Since(started),
					Err:       err,
				})
			}
			return res.Text, err
		},
	}
}

// schemaMap decodes a JSON Schema for the registry. A missing or
// undecodable schema becomes an empty object schema.
func schemaMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
