package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// pipeTransport is an in-memory Transport. Every message the client
// writes is recorded and handed to onWrite, which plays the server.
type pipeTransport struct {
	mu      sync.Mutex
	written []*Message
	frames  chan Frame
	closed  bool
	onWrite func(msg *Message)
}

func newPipeTransport() *pipeTransport {
	return &pipeTransport{frames: make(chan Frame, 256)}
}

func (p *pipeTransport) WriteMessage(_ context.Context, msg *Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &TransportError{Kind: TransportClosed}
	}
	p.written = append(p.written, msg)
	onWrite := p.onWrite
	p.mu.Unlock()

	if onWrite != nil {
		onWrite(msg)
	}
	return nil
}

func (p *pipeTransport) Frames() <-chan Frame { return p.frames }

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.frames)
	}
	return nil
}

// deliver sends a frame to the client as if the server wrote it.
func (p *pipeTransport) deliver(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.frames <- f
}

func (p *pipeTransport) deliverMsg(msg *Message) {
	p.deliver(Frame{Msg: msg})
}

// sent returns a copy of everything the client has written.
func (p *pipeTransport) sent() []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Message(nil), p.written...)
}

// sentMethods returns the methods of written requests and
// notifications, in order.
func (p *pipeTransport) sentMethods() []string {
	var out []string
	for _, m := range p.sent() {
		if m.Method != "" {
			out = append(out, m.Method)
		}
	}
	return out
}

// fakeServer answers client requests on a pipeTransport. A handler
// returning nil sends no reply; methods without a handler get
// "method not found".
type fakeServer struct {
	t  *testing.T
	tr *pipeTransport

	mu       sync.Mutex
	handlers map[string]func(msg *Message) *Message
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{
		t:        t,
		tr:       newPipeTransport(),
		handlers: make(map[string]func(msg *Message) *Message),
	}
	s.tr.onWrite = s.handle

	s.on(methodInitialize, func(msg *Message) *Message {
		return s.result(msg, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      Implementation{Name: "fake", Version: "1.0.0"},
			Capabilities:    ServerCapabilities{Tools: &ListChangedCapability{ListChanged: true}},
		})
	})
	s.on(methodPing, func(msg *Message) *Message {
		return s.result(msg, struct{}{})
	})
	s.on(methodToolsList, func(msg *Message) *Message {
		return s.result(msg, listToolsResult{Tools: []ToolDescriptor{
			{Name: "echo", Description: "Echo the message back", InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string"}}}`)},
			{Name: "add", Description: "Add two numbers"},
		}})
	})
	s.on(methodToolsCall, func(msg *Message) *Message {
		var p callToolParams
		if err := json.Unmarshal(msg.Params, &p); err != nil {
			return NewErrorResponse(*msg.ID, codeInvalidParams, err.Error())
		}
		text, _ := p.Arguments["message"].(string)
		return s.result(msg, TextResult(p.Name+": "+text))
	})
	return s
}

func (s *fakeServer) on(method string, h func(msg *Message) *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

func (s *fakeServer) handle(msg *Message) {
	if msg.Kind() != KindRequest {
		return
	}

	s.mu.Lock()
	h, ok := s.handlers[msg.Method]
	s.mu.Unlock()

	if !ok {
		s.tr.deliverMsg(NewErrorResponse(*msg.ID, codeMethodNotFound, "Method not found"))
		return
	}
	if reply := h(msg); reply != nil {
		s.tr.deliverMsg(reply)
	}
}

func (s *fakeServer) result(msg *Message, v any) *Message {
	s.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		s.t.Fatalf("marshal result: %v", err)
	}
	return NewResult(*msg.ID, data)
}

// client returns an unconnected client that dials s.
func (s *fakeServer) client(opts ...func(*ClientConfig)) *Client {
	cfg := ClientConfig{
		Name: "fake",
		Dial: func(context.Context) (Transport, error) { return s.tr, nil },
		Info: Implementation{Name: "thane-mcp-test", Version: "0.0.1"},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return NewClient(cfg)
}

// readyClient returns a client that has completed the handshake.
func (s *fakeServer) readyClient(opts ...func(*ClientConfig)) *Client {
	s.t.Helper()
	c := s.client(opts...)
	s.t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		s.t.Fatalf("Connect: %v", err)
	}
	if err := c.Initialize(ctx); err != nil {
		s.t.Fatalf("Initialize: %v", err)
	}
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
