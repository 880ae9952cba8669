package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nugget/thane-mcp/internal/calllog"
	"github.com/nugget/thane-mcp/internal/config"
	"github.com/nugget/thane-mcp/internal/events"
	"github.com/nugget/thane-mcp/internal/mcp"
	"github.com/nugget/thane-mcp/internal/tools"
)

// newClient builds an unconnected client for one configured server.
func newClient(cfg *config.Config, sc config.MCPServerConfig, logger *slog.Logger, onNote mcp.NotificationHandler) *mcp.Client {
	timeout := cfg.Timeouts.Request
	if sc.CallTimeout > 0 {
		timeout = sc.CallTimeout
	}

	return mcp.NewClient(mcp.ClientConfig{
		Name: sc.Name,
		Dial: mcp.StdioDialer(mcp.StdioConfig{
			Command:     sc.Command,
			Args:        sc.Args,
			Env:         sc.EnvList(),
			Dir:         sc.Dir,
			StopTimeout: cfg.Timeouts.Stop,
			Logger:      logger.With("mcp_server", sc.Name),
		}),
		Info:           mcp.Implementation{Name: cfg.Client.Name, Version: cfg.Client.Version},
		RequestTimeout: timeout,
		OnNotification: onNote,
		Logger:         logger,
	})
}

// startClient launches the server and completes the handshake. The
// client is closed again on failure.
func startClient(ctx context.Context, cfg *config.Config, sc config.MCPServerConfig, logger *slog.Logger, onNote mcp.NotificationHandler) (*mcp.Client, error) {
	client := newClient(cfg, sc, logger, onNote)

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("start MCP server %s: %w", sc.Name, err)
	}
	if err := client.Initialize(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("initialize MCP server %s: %w", sc.Name, err)
	}
	return client, nil
}

// recordCall publishes a finished tool call on the bus and appends it
// to the call log when one is open.
func recordCall(ctx context.Context, store *calllog.Store, bus *events.Bus, logger *slog.Logger, rec mcp.CallRecord) {
	kind := mcp.ErrorKind(rec.Err)

	bus.Publish(events.Event{
		Source: events.SourceMCP,
		Kind:   events.KindToolDone,
		Server: rec.Server,
		Data: map[string]any{
			"tool":        rec.Tool,
			"ok":          rec.Err == nil,
			"error_kind":  kind,
			"duration_ms": rec.Duration.Milliseconds(),
		},
	})

	if store == nil {
		return
	}
	// The call's own context may already be done after a timeout.
	err := store.Record(context.WithoutCancel(ctx), calllog.Record{
		Timestamp: rec.Started,
		Server:    rec.Server,
		Tool:      rec.Tool,
		SessionID: rec.SessionID,
		OK:        rec.Err == nil,
		ErrorKind: kind,
		Duration:  rec.Duration,
	})
	if err != nil {
		logger.Warn("failed to record tool call", "server", rec.Server, "tool", rec.Tool, "error", err)
	}
}

// mcpServer keeps one configured server connected and its tools
// bridged into the registry. A connwatch watcher drives it: every probe
// pings the live session, starting a new one when there is none, and
// bridges tools that are missing or stale. A session that fails its
// ping is closed so the next probe starts over.
type mcpServer struct {
	cfg      *config.Config
	sc       config.MCPServerConfig
	registry *tools.Registry
	bus      *events.Bus
	calls    *calllog.Store
	logger   *slog.Logger

	mu     sync.Mutex
	client *mcp.Client
	// registered holds the registry names bridged for this server; nil
	// means nothing is bridged.
	registered []string

	// stale is set when the server announces a tool list change.
	stale atomic.Bool
}

func newMCPServer(cfg *config.Config, sc config.MCPServerConfig, registry *tools.Registry, bus *events.Bus, calls *calllog.Store, logger *slog.Logger) *mcpServer {
	return &mcpServer{
		cfg:      cfg,
		sc:       sc,
		registry: registry,
		bus:      bus,
		calls:    calls,
		logger:   logger.With("mcp_server", sc.Name),
	}
}

// check is the connwatch probe for this server.
func (s *mcpServer) check(ctx context.Context) error {
	client, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		s.discard(client, err)
		return err
	}
	return s.ensureBridged(ctx, client)
}

// session returns the live client, starting a new one if there is
// none or the previous session has ended.
func (s *mcpServer) session(ctx context.Context) (*mcp.Client, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		select {
		case <-client.Done():
			s.logger.Warn("MCP session ended, restarting server", "session", client.SessionID())
			s.discard(client, nil)
		default:
			return client, nil
		}
	}

	client, err := startClient(ctx, s.cfg, s.sc, s.logger, s.notification)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return client, nil
}

// discard withdraws the tools of client's session and closes it, unless
// another session has already replaced it.
func (s *mcpServer) discard(client *mcp.Client, reason error) {
	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		return
	}
	s.client = nil
	s.mu.Unlock()

	if reason != nil {
		s.logger.Warn("closing unresponsive MCP session", "session", client.SessionID(), "error", reason)
	}
	s.unbridge()
	if err := client.Close(); err != nil {
		s.logger.Debug("MCP server close", "error", err)
	}
}

// ensureBridged registers the server's tools unless they are already
// registered and current. On a refresh, tools the server no longer
// offers are withdrawn after the new set is registered.
func (s *mcpServer) ensureBridged(ctx context.Context, client *mcp.Client) error {
	s.mu.Lock()
	previous := s.registered
	s.mu.Unlock()

	stale := s.stale.Swap(false)
	if previous != nil && !stale {
		return nil
	}

	names, err := mcp.BridgeTools(ctx, client, s.registry, mcp.BridgeOptions{
		Include:  s.sc.IncludeTools,
		Exclude:  s.sc.ExcludeTools,
		Observer: s.observe,
		Logger:   s.logger,
	})
	if err != nil {
		if stale {
			s.stale.Store(true)
		}
		return err
	}

	current := make(map[string]bool, len(names))
	for _, name := range names {
		current[name] = true
	}
	var gone []string
	for _, name := range previous {
		if !current[name] {
			gone = append(gone, name)
		}
	}
	s.registry.Remove(gone...)

	s.mu.Lock()
	s.registered = names
	s.mu.Unlock()

	s.logger.Info("MCP server tools bridged", "tools", len(names), "withdrawn", len(gone), "refresh", stale)
	return nil
}

// unbridge removes the server's tools from the registry.
func (s *mcpServer) unbridge() {
	s.mu.Lock()
	names := s.registered
	s.registered = nil
	s.mu.Unlock()

	if n := s.registry.Remove(names...); n > 0 {
		s.logger.Info("MCP server tools withdrawn", "tools", n)
	}
}

func (s *mcpServer) ready() {
	s.bus.Publish(events.Event{
		Source: events.SourceHealth,
		Kind:   events.KindServerUp,
		Server: s.sc.Name,
	})
}

func (s *mcpServer) down(err error) {
	s.unbridge()
	s.bus.Publish(events.Event{
		Source: events.SourceHealth,
		Kind:   events.KindServerDown,
		Server: s.sc.Name,
		Data:   map[string]any{"error": err.Error(), "error_kind": mcp.ErrorKind(err)},
	})
}

// notification forwards server notifications to the bus. It runs on
// the session's reader goroutine and must not block on the session.
func (s *mcpServer) notification(n mcp.Notification) {
	if n.Method == mcp.MethodToolsListChanged {
		s.stale.Store(true)
	}

	data := map[string]any{"method": n.Method}
	if len(n.Params) > 0 {
		data["params"] = n.Params
	}
	s.bus.Publish(events.Event{
		Source: events.SourceMCP,
		Kind:   events.KindNotification,
		Server: n.Server,
		Data:   data,
	})
}

func (s *mcpServer) observe(ctx context.Context, rec mcp.CallRecord) {
	recordCall(ctx, s.calls, s.bus, s.logger, rec)
}

// close ends the current session, if any.
func (s *mcpServer) close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		s.logger.Debug("MCP server close", "error", err)
	}
}
