package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nugget/thane-mcp/internal/config"
)

// Stdio transport defaults.
const (
	DefaultStopTimeout = 5 * time.Second
	DefaultStderrLines = 64

	// maxFrameSize bounds a single stdout line.
	maxFrameSize = 16 << 20
)

// StdioConfig configures a stdio MCP transport that communicates with
// a subprocess over stdin/stdout using newline-delimited JSON-RPC.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"). These are appended to the current
	// process environment.
	Env []string

	// Dir is the working directory. Empty means the current one.
	Dir string

	// StopTimeout is how long Close waits for the subprocess to exit
	// after stdin is closed before killing it.
	StopTimeout time.Duration

	// StderrLines is the number of trailing stderr lines kept for
	// diagnostics.
	StderrLines int

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// StdioTransport communicates with an MCP server running as a
// subprocess. JSON-RPC messages are newline-delimited on stdin/stdout.
// Stderr is captured for diagnostics and never parsed.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// sem serializes writes so concurrent messages never interleave.
	sem chan struct{}

	frames chan Frame
	done   chan struct{}
	stderr *lineRing

	closeOnce sync.Once
	closeErr  error
}

// StartStdio launches the subprocess and starts reading its stdout.
// The subprocess lifecycle is independent of ctx: it survives
// individual request timeouts and ends only with Close or on its own.
func StartStdio(_ context.Context, cfg StdioConfig) (*StdioTransport, error) {
	t := newStdioTransport(cfg)
	if err := t.start(); err != nil {
		return nil, err
	}
	return t, nil
}

// StdioDialer returns a [Dialer] that starts a stdio transport with cfg.
func StdioDialer(cfg StdioConfig) Dialer {
	return func(ctx context.Context) (Transport, error) {
		return StartStdio(ctx, cfg)
	}
}

func newStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.StderrLines <= 0 {
		cfg.StderrLines = DefaultStderrLines
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
		sem:    make(chan struct{}, 1),
		frames: make(chan Frame),
		done:   make(chan struct{}),
		stderr: newLineRing(cfg.StderrLines),
	}
}

func (t *StdioTransport) start() error {
	t.logger.Info("starting MCP subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)
	cmd.Dir = t.config.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &TransportError{Kind: SpawnFailed, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return &TransportError{Kind: SpawnFailed, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return &TransportError{Kind: SpawnFailed, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		stdin.Close()
		return &TransportError{Kind: SpawnFailed, Err: fmt.Errorf("start subprocess %s: %w", t.config.Command, err)}
	}

	t.cmd = cmd
	t.stdin = stdin

	go t.readLoop(stdout)
	go t.drainStderr(stderrPipe)

	t.logger.Info("MCP subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// Frames returns the inbound frame stream. It is closed when stdout
// reaches EOF or fails.
func (t *StdioTransport) Frames() <-chan Frame {
	return t.frames
}

// StderrTail returns the most recent stderr lines, oldest first.
func (t *StdioTransport) StderrTail() []string {
	return t.stderr.lines()
}

// Pid returns the subprocess id.
func (t *StdioTransport) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// acquire takes the write token, honoring ctx.
func (t *StdioTransport) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Both cases can be ready at once; do not write on a dead context.
	if err := ctx.Err(); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *StdioTransport) release() {
	<-t.sem
}

// WriteMessage encodes msg as one line on the subprocess stdin.
func (t *StdioTransport) WriteMessage(ctx context.Context, msg *Message) error {
	select {
	case <-t.done:
		return &TransportError{Kind: TransportClosed}
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return &SerializationError{Detail: "encode message", Err: err}
	}

	if err := t.acquire(ctx); err != nil {
		return err
	}
	defer t.release()

	t.logger.Log(ctx, config.LevelTrace, "MCP send", "payload", string(data))

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		select {
		case <-t.done:
			return &TransportError{Kind: TransportClosed, Err: err}
		default:
		}
		return &TransportError{Kind: WriteFailed, Err: fmt.Errorf("write to subprocess stdin: %w", err)}
	}
	return nil
}

// readLoop turns stdout lines into frames until EOF.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.frames)

	reader := bufio.NewReaderSize(stdout, 1<<20)
	for {
		line, err := readLine(reader, maxFrameSize)
		if len(bytes.TrimSpace(line)) > 0 {
			if !t.deliver(t.decodeLine(line)) {
				return
			}
		}
		if err != nil {
			if errors.Is(err, errFrameTooLarge) {
				if !t.deliver(Frame{Err: &TransportError{Kind: MalformedFrame, Err: err}}) {
					return
				}
				continue
			}
			select {
			case <-t.done:
			default:
				if !errors.Is(err, io.EOF) {
					t.logger.Warn("MCP subprocess stdout read failed", "error", err)
				}
			}
			return
		}
	}
}

func (t *StdioTransport) decodeLine(line []byte) Frame {
	t.logger.Log(context.Background(), config.LevelTrace, "MCP recv", "payload", string(line))

	msg, err := DecodeMessage(line)
	if err != nil {
		return Frame{Err: &TransportError{Kind: MalformedFrame, Err: err}}
	}
	return Frame{Msg: msg}
}

// deliver hands f to the consumer. It reports false once the transport
// is closing and nobody will read any more frames.
func (t *StdioTransport) deliver(f Frame) bool {
	select {
	case t.frames <- f:
		return true
	case <-t.done:
		return false
	}
}

var errFrameTooLarge = errors.New("frame exceeds maximum size")

// readLine reads one newline-terminated line. A line longer than limit
// is consumed and discarded, returning errFrameTooLarge.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.ReadSlice('\n')
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return nil, errFrameTooLarge
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// drainStderr keeps stderr lines for diagnostics and logs them at
// debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		t.stderr.add(line)
		t.logger.Debug("MCP subprocess stderr", "line", line)
	}
}

// Close terminates the subprocess and releases resources. Stdin is
// closed first so a well-behaved server exits on its own; after
// StopTimeout the process is killed. Close is idempotent.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.stop()
	})
	return t.closeErr
}

func (t *StdioTransport) stop() error {
	pid := t.Pid()
	t.logger.Info("stopping MCP subprocess", "pid", pid)

	t.stdin.Close()

	// Wait returns once the process exits and then closes our pipe ends,
	// even if a grandchild still holds the write ends open.
	exited := make(chan error, 1)
	go func() {
		exited <- t.cmd.Wait()
	}()

	select {
	case err := <-exited:
		return exitError(err)
	case <-time.After(t.config.StopTimeout):
		t.logger.Warn("MCP subprocess did not exit gracefully, killing",
			"pid", pid,
		)
		_ = t.cmd.Process.Kill()
		<-exited
		return nil
	}
}

// exitError drops non-zero exit statuses; the server already answered
// everything it was going to.
func exitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// lineRing keeps the last n lines written to it.
type lineRing struct {
	mu    sync.Mutex
	buf   []string
	next  int
	full  bool
	limit int
}

func newLineRing(n int) *lineRing {
	return &lineRing{buf: make([]string, n), limit: n}
}

func (r *lineRing) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = line
	r.next = (r.next + 1) % r.limit
	if r.next == 0 {
		r.full = true
	}
}

func (r *lineRing) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, r.limit)
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
