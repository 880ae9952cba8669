package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nugget/thane-mcp/internal/calllog"
	"github.com/nugget/thane-mcp/internal/config"
	"github.com/nugget/thane-mcp/internal/mcp"
	"github.com/nugget/thane-mcp/internal/tools"
)

// recentCallLimit is how many calls "thane-mcp calls" shows.
const recentCallLimit = 20

// withTimeout bounds ctx by d. A non-positive d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// openCallLog opens the call log if it is enabled. It returns a nil
// store when call logging is off.
func openCallLog(cfg *config.Config) (*calllog.Store, error) {
	if !cfg.CallLog.Enabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.CallLog.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create call log directory: %w", err)
	}
	store, err := calllog.Open(cfg.CallLog.Path)
	if err != nil {
		return nil, fmt.Errorf("open call log %s: %w", cfg.CallLog.Path, err)
	}
	return store, nil
}

func lookupServer(cfg *config.Config, name string) (config.MCPServerConfig, error) {
	sc, ok := cfg.MCP.Server(name)
	if !ok {
		return config.MCPServerConfig{}, fmt.Errorf("unknown MCP server %q", name)
	}
	return sc, nil
}

// runTools handles "thane-mcp tools <server>": it starts the server,
// lists its tools and prints the catalog.
func runTools(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt, server string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configLogger(stderr, cfg)

	sc, err := lookupServer(cfg, server)
	if err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx, cfg.Timeouts.Initialize)
	defer cancel()

	client, err := startClient(ctx, cfg, sc, logger, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	list, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools from %s: %w", server, err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	out := mcp.FormatToolList(list)
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err = io.WriteString(stdout, out)
	return err
}

// callOutput is the JSON shape of "thane-mcp -o json call".
type callOutput struct {
	Server    string `json:"server"`
	Tool      string `json:"tool"`
	Text      string `json:"text"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// runCall handles "thane-mcp call <server> <tool> [json]". The tool is
// reached through a registry bridge, so include/exclude filters apply
// and the call is written to the call log like any other.
func runCall(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt, server, tool, argsJSON string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configLogger(stderr, cfg)

	sc, err := lookupServer(cfg, server)
	if err != nil {
		return err
	}

	calls, err := openCallLog(cfg)
	if err != nil {
		return err
	}
	if calls != nil {
		defer calls.Close()
	}

	startCtx, cancel := withTimeout(ctx, cfg.Timeouts.Initialize)
	defer cancel()

	client, err := startClient(startCtx, cfg, sc, logger, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	registry := tools.NewRegistry()
	_, err = mcp.BridgeTools(startCtx, client, registry, mcp.BridgeOptions{
		Include: sc.IncludeTools,
		Exclude: sc.ExcludeTools,
		Observer: func(ctx context.Context, rec mcp.CallRecord) {
			recordCall(ctx, calls, nil, logger, rec)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	text, callErr := registry.Execute(ctx, mcp.ToolName(sc.Name, tool), argsJSON)

	if outputFmt == "json" {
		out := callOutput{Server: sc.Name, Tool: tool, Text: text}
		if callErr != nil {
			out.Error = callErr.Error()
			out.ErrorKind = mcp.ErrorKind(callErr)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
		return callErr
	}

	if text != "" {
		fmt.Fprintln(stdout, text)
	}
	return callErr
}

// runCalls handles "thane-mcp calls": recent invocations and a per-tool
// summary of the last day from the call log.
func runCalls(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.CallLog.Path); err != nil {
		return fmt.Errorf("no call log at %s (is call_log.enabled set?)", cfg.CallLog.Path)
	}

	store, err := calllog.Open(cfg.CallLog.Path)
	if err != nil {
		return fmt.Errorf("open call log %s: %w", cfg.CallLog.Path, err)
	}
	defer store.Close()

	recent, err := store.Recent(ctx, recentCallLimit)
	if err != nil {
		return err
	}
	now := time.Now()
	summary, err := store.SummaryByTool(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"recent":  recent,
			"summary": summary,
		})
	}

	fmt.Fprintln(stdout, "Recent calls:")
	if len(recent) == 0 {
		fmt.Fprintln(stdout, "  (none)")
	}
	for _, r := range recent {
		status := "ok"
		if !r.OK {
			status = r.ErrorKind
		}
		fmt.Fprintf(stdout, "  %-16s %-32s %-16s %s\n",
			humanize.Time(r.Timestamp), r.Server+"/"+r.Tool, status, r.Duration.Round(time.Millisecond))
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Last 24 hours:")
	if len(summary) == 0 {
		fmt.Fprintln(stdout, "  (none)")
	}
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := summary[k]
		fmt.Fprintf(stdout, "  %-32s %s calls, %s failed, avg %s\n",
			k, humanize.Comma(int64(s.Calls)), humanize.Comma(int64(s.Failures)), s.AvgDuration().Round(time.Millisecond))
	}
	return nil
}
