package mcp

import (
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

// outcome is what a waiting caller receives: the response message, or
// the error that ended the wait.
type outcome struct {
	msg *Message
	err error
}

// correlator matches responses to outstanding requests by id. Each
// pending request owns a one-slot channel that is fulfilled at most
// once; the table lock is held only to insert or remove entries.
type correlator struct {
	logger *slog.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan outcome
	closed  error
}

func newCorrelator(logger *slog.Logger) *correlator {
	return &correlator{
		logger:  logger,
		pending: make(map[string]chan outcome),
	}
}

// issue allocates a fresh id and registers its completion slot. After
// rejectAll it fails with the rejection error.
func (c *correlator) issue() (string, <-chan outcome, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	slot := make(chan outcome, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return "", nil, c.closed
	}
	c.pending[id] = slot
	return id, slot, nil
}

// resolve completes the request with id. Unknown ids (never issued,
// already resolved, or evicted after a timeout) are logged and
// discarded. It reports whether a waiter was found.
func (c *correlator) resolve(id string, out outcome) bool {
	c.mu.Lock()
	slot, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("discarding MCP response for unknown request", "id", id)
		return false
	}
	slot <- out
	return true
}

// evict drops the slot for id without completing it.
func (c *correlator) evict(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// rejectAll fails every outstanding request with err and refuses new
// ones. It returns the number of requests rejected.
func (c *correlator) rejectAll(err error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	pending := c.pending
	c.pending = make(map[string]chan outcome)
	c.mu.Unlock()

	for _, slot := range pending {
		slot <- outcome{err: err}
	}
	return len(pending)
}

// outstanding returns the number of requests awaiting a response.
func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
