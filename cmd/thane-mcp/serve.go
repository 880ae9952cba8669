package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nugget/thane-mcp/internal/buildinfo"
	"github.com/nugget/thane-mcp/internal/config"
	"github.com/nugget/thane-mcp/internal/connwatch"
	"github.com/nugget/thane-mcp/internal/events"
	"github.com/nugget/thane-mcp/internal/mcp"
	"github.com/nugget/thane-mcp/internal/mqtt"
	"github.com/nugget/thane-mcp/internal/tools"
)

// runServe handles "thane-mcp serve". It keeps every configured server
// connected under a health watcher, bridges their tools into one
// registry, forwards events to MQTT when configured, and answers tool
// requests read from stdin until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. Watchers stop and every MCP session is closed
//  3. The MQTT forwarder publishes "offline" and disconnects
//  4. The call log is closed via defer
func runServe(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelInfo, config.LogFormatText)
	build := buildinfo.Current()
	logger.Info("starting thane-mcp", "version", build.Version, "commit", build.GitCommit, "built", build.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if len(cfg.MCP.Servers) == 0 {
		return fmt.Errorf("no MCP servers configured in %s", cfgPath)
	}

	// Everything after the banner uses the configured level and format.
	logger = configLogger(stderr, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"servers", len(cfg.MCP.Servers),
		"data_dir", cfg.DataDir,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	// --- Call log ---
	calls, err := openCallLog(cfg)
	if err != nil {
		return err
	}
	if calls != nil {
		defer calls.Close()
		logger.Info("call log opened", "path", cfg.CallLog.Path)
	}

	// --- MQTT forwarder ---
	// Runs on its own context so it can still publish "offline" after
	// the signal context is cancelled.
	fwdCtx, fwdCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer fwdCancel()

	var fwd *mqtt.Forwarder
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		fwd = mqtt.New(cfg.MQTT, mqtt.ClientID(instanceID), bus, logger)
		go func() {
			if err := fwd.Start(fwdCtx); err != nil {
				logger.Error("mqtt forwarder failed", "error", err)
			}
		}()
		logger.Info("mqtt forwarding enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt forwarding disabled (not configured)")
	}

	// --- MCP servers ---
	registry := tools.NewRegistry()
	connMgr := connwatch.NewManager(logger)

	servers := make([]*mcpServer, 0, len(cfg.MCP.Servers))
	for _, sc := range cfg.MCP.Servers {
		srv := newMCPServer(cfg, sc, registry, bus, calls, logger)
		servers = append(servers, srv)

		backoff := connwatch.DefaultBackoffConfig()
		if cfg.Timeouts.Initialize > 0 {
			backoff.ProbeTimeout = cfg.Timeouts.Initialize
		}
		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    sc.Name,
			Probe:   srv.check,
			Backoff: backoff,
			OnReady: srv.ready,
			OnDown:  srv.down,
			Logger:  logger,
		})
	}

	go serveRequests(ctx, stdin, stdout, registry, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	for _, st := range connMgr.Status() {
		logger.Info("MCP server status at shutdown",
			"server", st.Name,
			"ready", st.Ready,
			"last_error", st.LastError,
		)
	}
	connMgr.Stop()
	for _, srv := range servers {
		srv.close()
	}

	if fwd != nil {
		offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := fwd.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
		offlineCancel()
	}

	logger.Info("thane-mcp stopped", "uptime", buildinfo.Uptime().String())
	return nil
}

// toolRequest is one line of serve-mode input. An empty Tool asks for
// the registered tools: their names, or their function definitions
// when Definitions is set.
type toolRequest struct {
	ID          json.RawMessage `json:"id,omitempty"`
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Definitions bool            `json:"definitions,omitempty"`
}

// toolResponse is one line of serve-mode output.
type toolResponse struct {
	ID          json.RawMessage  `json:"id,omitempty"`
	Result      string           `json:"result,omitempty"`
	Tools       []string         `json:"tools,omitempty"`
	Definitions []map[string]any `json:"definitions,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorKind   string           `json:"error_kind,omitempty"`
}

// serveRequests answers newline-delimited tool requests from r on w.
// Requests run concurrently; responses carry the request id and may
// arrive out of order. It returns when r reaches EOF or ctx ends.
func serveRequests(ctx context.Context, r io.Reader, w io.Writer, registry *tools.Registry, logger *slog.Logger) {
	var (
		mu  sync.Mutex
		enc = json.NewEncoder(w)
		wg  sync.WaitGroup
	)
	reply := func(resp toolResponse) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(resp); err != nil {
			logger.Warn("failed to write tool response", "error", err)
		}
	}
	defer wg.Wait()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req toolRequest
		if err := json.Unmarshal(line, &req); err != nil {
			reply(toolResponse{Error: fmt.Sprintf("invalid request: %v", err), ErrorKind: "invalid_request"})
			continue
		}

		if req.Tool == "" {
			resp := toolResponse{ID: req.ID}
			if req.Definitions {
				resp.Definitions = registry.List()
			} else {
				resp.Tools = registry.AllToolNames()
			}
			reply(resp)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply(executeRequest(ctx, registry, req))
		}()
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("tool request stream failed", "error", err)
	}
}

func executeRequest(ctx context.Context, registry *tools.Registry, req toolRequest) toolResponse {
	resp := toolResponse{ID: req.ID}

	result, err := registry.Execute(ctx, req.Tool, string(req.Arguments))
	resp.Result = result
	if err != nil {
		resp.Error = err.Error()
		var unavailable *tools.ErrToolUnavailable
		if errors.As(err, &unavailable) {
			resp.ErrorKind = "tool_unavailable"
		} else {
			resp.ErrorKind = mcp.ErrorKind(err)
		}
	}
	return resp
}
