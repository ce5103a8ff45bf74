// Package session tracks live transport connections and the SSE sessions
// that bind POSTed requests to their delivery stream.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport identifies the transport a connection arrived on.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportWS   Transport = "ws"
	TransportSSE  Transport = "sse"
)

// State is the connection lifecycle state.
type State int

const (
	StateOpen State = iota
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// Connection represents one live transport attachment. It owns the set of
// in-flight request cancel functions that originated on it, so closing the
// connection cancels everything it still owes a response for.
type Connection struct {
	ID         string
	Transport  Transport
	RemoteAddr string
	OpenedAt   time.Time

	// SessionID is set for SSE connections once bound.
	SessionID string

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	pending      map[string]pendingCall
	closeReason  string
}

// pendingCall tracks one in-flight request. Batch elements may share a
// wire id, so entries are keyed by a per-call key and grouped by request
// id for cancellation.
type pendingCall struct {
	requestID string
	cancel    context.CancelFunc
}

func newConnection(transport Transport, remoteAddr string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Connection{
		ID:           uuid.NewString(),
		Transport:    transport,
		RemoteAddr:   remoteAddr,
		OpenedAt:     now,
		ctx:          ctx,
		cancel:       cancel,
		lastActivity: now,
		pending:      make(map[string]pendingCall),
	}
}

// Context is cancelled when the connection closes. Request contexts derive
// from it so client disconnects propagate into running tool calls.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Touch records peer activity.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent peer activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// AcceptsWork reports whether new inbound frames may start work on this
// connection. Draining and closed connections refuse new requests but keep
// finishing the ones they owe.
func (c *Connection) AcceptsWork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

// AddPending registers an in-flight request originating on this connection
// under a caller-chosen unique key. Returns false when the connection no
// longer accepts work; callers must then fail the request instead of
// dispatching it.
func (c *Connection) AddPending(key, requestID string, cancel context.CancelFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return false
	}
	c.pending[key] = pendingCall{requestID: requestID, cancel: cancel}
	return true
}

// RemovePending drops a completed request from the pending set by its key.
func (c *Connection) RemovePending(key string) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// CancelPending cancels every in-flight request carrying the given wire id,
// for client cancel notifications. Returns whether the id was in flight.
func (c *Connection) CancelPending(requestID string) bool {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, 1)
	for _, p := range c.pending {
		if p.requestID == requestID {
			cancels = append(cancels, p.cancel)
		}
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels) > 0
}

// PendingCount returns the number of requests still owed a response.
func (c *Connection) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// beginDrain transitions Open → Draining. Already draining or closed
// connections are left alone.
func (c *Connection) beginDrain() {
	c.mu.Lock()
	if c.state == StateOpen {
		c.state = StateDraining
	}
	c.mu.Unlock()
}

// close transitions to Closed and cancels every pending request. Idempotent.
func (c *Connection) close(reason string) bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	c.closeReason = reason
	cancels := make([]context.CancelFunc, 0, len(c.pending))
	for _, p := range c.pending {
		cancels = append(cancels, p.cancel)
	}
	c.pending = make(map[string]pendingCall)
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.cancel()
	return true
}

// CloseReason returns the reason recorded when the connection closed.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}
