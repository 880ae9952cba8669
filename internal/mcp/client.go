package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/thane-mcp/internal/buildinfo"
)

// maxToolPages bounds tools/list pagination against a server that
// never stops returning a cursor.
const maxToolPages = 100

// serverRequestTimeout bounds replies to server-initiated requests.
const serverRequestTimeout = 5 * time.Second

// Phase is the lifecycle state of a [Client].
type Phase int

// Client phases, in lifecycle order. Transitions only move forward.
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAwaitingHandshake
	PhaseReady
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingHandshake:
		return "awaiting_handshake"
	case PhaseReady:
		return "ready"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ClientConfig configures a [Client].
type ClientConfig struct {
	// Name labels the server in logs, notifications and bridged tool
	// names.
	Name string

	// Dial establishes the transport. Required.
	Dial Dialer

	// Info identifies this client in the handshake. Defaults to
	// "thane-mcp" and the build version.
	Info Implementation

	// RequestTimeout applies to requests whose context has no deadline.
	// Zero means wait for as long as the context allows.
	RequestTimeout time.Duration

	// OnNotification receives server notifications. Optional.
	OnNotification NotificationHandler

	// Logger is the structured logger for client diagnostics.
	Logger *slog.Logger
}

// Client is one session with one MCP server. All methods are safe for
// concurrent use; concurrent requests are correlated by id, so replies
// may arrive in any order.
type Client struct {
	name      string
	sessionID string
	cfg       ClientConfig
	logger    *slog.Logger

	corr    *correlator
	catalog *catalog

	mu         sync.RWMutex
	phase      Phase
	transport  Transport
	server     InitializeResult
	readerDone chan struct{}
}

// NewClient creates a client in the Disconnected phase. No process is
// started until Connect.
func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Info.Name == "" {
		cfg.Info.Name = buildinfo.Name
	}
	if cfg.Info.Version == "" {
		cfg.Info.Version = buildinfo.Current().Version
	}

	sessionID := uuid.NewString()
	if id, err := uuid.NewV7(); err == nil {
		sessionID = id.String()
	}

	logger = logger.With("mcp_server", cfg.Name, "mcp_session", sessionID)
	return &Client{
		name:       cfg.Name,
		sessionID:  sessionID,
		cfg:        cfg,
		logger:     logger,
		corr:       newCorrelator(logger),
		catalog:    newCatalog(),
		readerDone: make(chan struct{}),
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// SessionID returns the locally generated id used to correlate logs.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Phase returns the current lifecycle phase.
func (c *Client) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// ServerInfo returns the initialize result. It is zero before Ready.
func (c *Client) ServerInfo() InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// Done is closed when the session's reader has stopped, either because
// the session was closed or because the server went away.
func (c *Client) Done() <-chan struct{} {
	return c.readerDone
}

// Connect starts the transport. It is legal only in the Disconnected
// phase. On failure the session is Closed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseDisconnected {
		phase := c.phase
		c.mu.Unlock()
		return c.phaseError("connect", phase)
	}
	c.phase = PhaseConnecting
	c.mu.Unlock()

	if c.cfg.Dial == nil {
		c.shutdown(ErrSessionClosed)
		return &TransportError{Kind: SpawnFailed, Err: errors.New("no dialer configured")}
	}

	tr, err := c.cfg.Dial(ctx)
	if err != nil {
		c.shutdown(ErrSessionClosed)
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Kind: SpawnFailed, Err: err}
		}
		return err
	}

	c.mu.Lock()
	if c.phase == PhaseClosed {
		c.mu.Unlock()
		_ = tr.Close()
		return ErrSessionClosed
	}
	c.transport = tr
	c.phase = PhaseAwaitingHandshake
	c.mu.Unlock()

	go c.readLoop(tr)

	c.logger.Debug("MCP transport connected")
	return nil
}

// Initialize performs the MCP handshake: sends an initialize request,
// validates the result, then sends notifications/initialized. It is
// legal only after Connect. Any failure closes the session and is
// reported as an *InitializationError.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.RLock()
	phase := c.phase
	c.mu.RUnlock()
	if phase != PhaseAwaitingHandshake {
		return c.phaseError("initialize", phase)
	}

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.cfg.Info,
	}

	raw, err := c.request(ctx, methodInitialize, params)
	if err != nil {
		return c.failInit("initialize request failed", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return c.failInit("malformed initialize result",
			&SerializationError{Detail: "decode initialize result", Err: err})
	}
	if result.ProtocolVersion == "" {
		return c.failInit("missing protocolVersion", ErrInvalidResponse)
	}
	if result.ServerInfo.Name == "" {
		return c.failInit("missing serverInfo.name", ErrInvalidResponse)
	}
	if !supportedVersions[result.ProtocolVersion] {
		return c.failInit(fmt.Sprintf("unsupported protocol version %q", result.ProtocolVersion), nil)
	}

	if err := c.notify(ctx, methodInitialized, nil); err != nil {
		return c.failInit("send initialized notification", err)
	}

	c.mu.Lock()
	if c.phase != PhaseAwaitingHandshake {
		c.mu.Unlock()
		return &InitializationError{Reason: "session closed during handshake", Err: ErrSessionClosed}
	}
	c.phase = PhaseReady
	c.server = result
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return nil
}

func (c *Client) failInit(reason string, err error) error {
	c.logger.Warn("MCP initialization failed", "reason", reason, "error", err)
	_ = c.shutdown(ErrSessionClosed)
	return &InitializationError{Reason: reason, Err: err}
}

// RefreshTools fetches the full tool list, following pagination, and
// atomically replaces the catalog. On failure the previous catalog is
// left intact.
func (c *Client) RefreshTools(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}

	var (
		all    []ToolDescriptor
		cursor string
	)
	for page := 0; ; page++ {
		if page >= maxToolPages {
			return fmt.Errorf("tools/list: more than %d pages: %w", maxToolPages, ErrInvalidResponse)
		}

		raw, err := c.request(ctx, methodToolsList, listToolsParams{Cursor: cursor})
		if err != nil {
			return fmt.Errorf("tools/list: %w", err)
		}

		var result listToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return &SerializationError{Detail: "decode tools/list result", Err: err}
		}
		for _, t := range result.Tools {
			if t.Name == "" {
				return fmt.Errorf("tools/list: tool without a name: %w", ErrInvalidResponse)
			}
		}
		all = append(all, result.Tools...)

		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	c.catalog.replace(all)
	c.logger.Debug("MCP tools discovered", "count", len(all))
	return nil
}

// ListTools refreshes the catalog and returns it.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := c.RefreshTools(ctx); err != nil {
		return nil, err
	}
	return c.catalog.list(), nil
}

// Tools returns the cached catalog without a round trip.
func (c *Client) Tools() []ToolDescriptor {
	return c.catalog.list()
}

// Tool returns the cached descriptor for name.
func (c *Client) Tool(name string) (ToolDescriptor, bool) {
	return c.catalog.lookup(name)
}

// HasTool reports whether the cached catalog lists name.
func (c *Client) HasTool(name string) bool {
	_, ok := c.catalog.lookup(name)
	return ok
}

// CallTool invokes a tool. When the catalog has been populated, an
// unknown name fails with *ToolNotFoundError before anything is sent.
// A result flagged isError is returned together with a
// *ToolExecutionError carrying its content.
//
// If ctx ends first the call fails with ErrTimeout. No cancellation is
// sent to the server, which may still run the tool; its late reply is
// discarded.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if !c.catalog.known(name) {
		return nil, &ToolNotFoundError{Name: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	raw, err := c.request(ctx, methodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &SerializationError{Detail: "decode tools/call result", Err: err}
	}

	if result.IsError {
		return &result, &ToolExecutionError{
			Tool:    name,
			Message: toolErrorMessage(&result),
			Content: result.Content,
		}
	}
	return &result, nil
}

// InvokeTool calls a tool and renders the result with [Format]. The
// formatted result is filled in whenever the server answered, including
// for *ToolExecutionError.
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]any) (FormattedResult, error) {
	result, err := c.CallTool(ctx, name, args)
	if result == nil {
		return FormattedResult{}, err
	}
	return FormattedResult{
		Text:              Format(result),
		StructuredContent: result.StructuredContent,
		Result:            result,
	}, err
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.requireReady(); err != nil {
		return err
	}
	_, err := c.request(ctx, methodPing, nil)
	return err
}

// Close ends the session from any phase: pending requests fail with
// ErrSessionClosed, the catalog is cleared and the transport is closed.
// Close is idempotent.
func (c *Client) Close() error {
	err := c.shutdown(ErrSessionClosed)
	c.catalog.clear()
	return err
}

// shutdown moves the session to Closed, rejects pending requests with
// err and closes the transport. Later calls are no-ops. The catalog is
// kept so a session lost to its transport still reports what it had.
func (c *Client) shutdown(err error) error {
	c.mu.Lock()
	if c.phase == PhaseClosed {
		c.mu.Unlock()
		return nil
	}
	c.phase = PhaseClosed
	tr := c.transport
	c.mu.Unlock()

	if n := c.corr.rejectAll(err); n > 0 {
		c.logger.Debug("rejected pending MCP requests", "count", n, "error", err)
	}

	if tr == nil {
		// No reader was started.
		close(c.readerDone)
		return nil
	}

	c.logger.Debug("closing MCP session", "reason", err)
	return tr.Close()
}

func (c *Client) requireReady() error {
	c.mu.RLock()
	phase := c.phase
	c.mu.RUnlock()
	switch phase {
	case PhaseReady:
		return nil
	case PhaseClosed:
		return ErrSessionClosed
	default:
		return ErrNotInitialized
	}
}

func (c *Client) phaseError(op string, phase Phase) error {
	if phase == PhaseClosed {
		return fmt.Errorf("%s: %w", op, ErrSessionClosed)
	}
	return fmt.Errorf("%s in phase %s: %w", op, phase, ErrInvalidPhase)
}

func (c *Client) currentTransport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.phase == PhaseClosed {
		return nil
	}
	return c.transport
}

// request sends one request and waits for its response, the caller's
// context, or session termination.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	encoded, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	if c.cfg.RequestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
			defer cancel()
		}
	}

	tr := c.currentTransport()
	if tr == nil {
		return nil, ErrSessionClosed
	}

	id, slot, err := c.corr.issue()
	if err != nil {
		return nil, err
	}

	if err := tr.WriteMessage(ctx, NewRequest(StringID(id), method, encoded)); err != nil {
		c.corr.evict(id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w: %w", method, ErrTimeout, ctxErr)
		}
		var te *TransportError
		if errors.As(err, &te) && te.Kind != MalformedFrame {
			c.logger.Warn("MCP transport write failed, closing session", "method", method, "error", err)
			_ = c.shutdown(err)
		}
		return nil, err
	}

	select {
	case out := <-slot:
		if out.err != nil {
			return nil, out.err
		}
		resp := out.msg
		if !resp.ValidResponse() {
			return nil, fmt.Errorf("%s: %w", method, ErrInvalidResponse)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.corr.evict(id)
		c.logger.Debug("MCP request abandoned", "method", method, "id", id, "error", ctx.Err())
		return nil, fmt.Errorf("%s: %w: %w", method, ErrTimeout, ctx.Err())
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	encoded, err := encodeParams(params)
	if err != nil {
		return err
	}
	tr := c.currentTransport()
	if tr == nil {
		return ErrSessionClosed
	}
	return tr.WriteMessage(ctx, NewNotification(method, encoded))
}

// readLoop is the session's single reader. It exits when the
// transport's frame stream closes.
func (c *Client) readLoop(tr Transport) {
	for frame := range tr.Frames() {
		if frame.Err != nil {
			c.logger.Warn("dropping malformed MCP frame", "error", frame.Err)
			continue
		}
		c.dispatch(tr, frame.Msg)
	}

	c.mu.RLock()
	phase := c.phase
	c.mu.RUnlock()
	if phase != PhaseClosed {
		c.logger.Warn("MCP server stream ended", "phase", phase.String())
	}
	if err := c.shutdown(&TransportError{Kind: TransportClosed}); err != nil {
		c.logger.Debug("MCP transport close", "error", err)
	}
	close(c.readerDone)
}

func (c *Client) dispatch(tr Transport, msg *Message) {
	switch msg.Kind() {
	case KindResponse:
		c.corr.resolve(msg.ID.String(), outcome{msg: msg})
	case KindNotification:
		c.handleNotification(msg)
	case KindRequest:
		go c.answerServerRequest(tr, msg)
	default:
		c.logger.Warn("dropping MCP message of unknown shape")
	}
}

func (c *Client) handleNotification(msg *Message) {
	if msg.Method == methodToolsListChanged {
		c.logger.Info("MCP server tool list changed; catalog may be stale")
	}
	if c.cfg.OnNotification != nil {
		c.cfg.OnNotification(Notification{
			Server: c.name,
			Method: msg.Method,
			Params: msg.Params,
		})
	}
}

// answerServerRequest replies to a request initiated by the server so
// it is never left waiting: ping succeeds, everything else is
// reported as an unknown method.
func (c *Client) answerServerRequest(tr Transport, msg *Message) {
	ctx, cancel := context.WithTimeout(context.Background(), serverRequestTimeout)
	defer cancel()

	var reply *Message
	if msg.Method == methodPing {
		reply = NewResult(*msg.ID, json.RawMessage(`{}`))
	} else {
		c.logger.Debug("rejecting unsupported MCP server request", "method", msg.Method)
		reply = NewErrorResponse(*msg.ID, codeMethodNotFound, "Method not found")
	}

	if err := tr.WriteMessage(ctx, reply); err != nil {
		c.logger.Debug("failed to answer MCP server request", "method", msg.Method, "error", err)
	}
}
