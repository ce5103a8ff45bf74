package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/mcpkit/mcpkit/pkg/events"
	"github.com/mcpkit/mcpkit/pkg/logging"
)

// Registry tracks every live connection and the SSE session bindings.
// It is one of the two legitimate pieces of process-wide mutable state in
// the core (the other is the tool registry); reads are concurrent, writes
// serialized.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	sessions map[string]*Connection
	draining bool

	bus     *events.Bus
	logger  *slog.Logger
	onClose func(connID string)
}

// NewRegistry creates a connection registry. The bus may be nil.
func NewRegistry(bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Registry{
		conns:    make(map[string]*Connection),
		sessions: make(map[string]*Connection),
		bus:      bus,
		logger:   logger,
	}
}

// SetOnClose registers a hook invoked exactly once per connection, after
// it leaves the registry. The lifecycle coordinator uses it to release
// per-connection limiter slots synchronously; the event bus is lossy and
// carries no such responsibility.
func (r *Registry) SetOnClose(fn func(connID string)) {
	r.mu.Lock()
	r.onClose = fn
	r.mu.Unlock()
}

// Open registers a new connection. Returns nil when the registry is
// draining and refuses new attachments.
func (r *Registry) Open(transport Transport, remoteAddr string) *Connection {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil
	}
	conn := newConnection(transport, remoteAddr)
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.logger.Debug("connection opened", "conn_id", conn.ID, "transport", string(transport), "remote", remoteAddr)
	r.publish(events.Event{Type: events.ConnectionOpened, ConnectionID: conn.ID, Transport: string(transport)})
	return conn
}

// BindSession issues a session id for an SSE connection. The id maps to at
// most one open connection; rebinding is not possible, reconnection creates
// a fresh session.
func (r *Registry) BindSession(conn *Connection) string {
	sid := generateSessionID()
	r.mu.Lock()
	conn.SessionID = sid
	r.sessions[sid] = conn
	r.mu.Unlock()
	return sid
}

// LookupSession resolves a session id to its live SSE connection, or nil.
func (r *Registry) LookupSession(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Get returns a connection by id, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Close removes a connection, cancelling everything still in flight on it.
// Idempotent.
func (r *Registry) Close(conn *Connection, reason string) {
	if conn == nil || !conn.close(reason) {
		return
	}
	r.mu.Lock()
	delete(r.conns, conn.ID)
	if conn.SessionID != "" {
		delete(r.sessions, conn.SessionID)
	}
	onClose := r.onClose
	r.mu.Unlock()

	if onClose != nil {
		onClose(conn.ID)
	}
	r.logger.Debug("connection closed", "conn_id", conn.ID, "reason", reason)
	r.publish(events.Event{Type: events.ConnectionClosed, ConnectionID: conn.ID, Transport: string(conn.Transport)})
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SessionCount returns the number of bound SSE sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Draining reports whether DrainAll has begun.
func (r *Registry) Draining() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.draining
}

// DrainAll transitions every connection to Draining, refuses new work,
// waits up to timeout for pending requests to finish, then force-closes
// whatever remains. Safe to call more than once; later calls just wait.
func (r *Registry) DrainAll(ctx context.Context, timeout time.Duration) {
	r.mu.Lock()
	r.draining = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	r.publish(events.Event{Type: events.ServerDraining})
	for _, c := range conns {
		c.beginDrain()
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if r.pendingTotal() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			deadline = time.Time{}
		case <-ticker.C:
		}
	}

	for _, c := range conns {
		r.Close(c, "server shutting down")
	}
}

func (r *Registry) pendingTotal() int {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	total := 0
	for _, c := range conns {
		total += c.PendingCount()
	}
	return total
}

func (r *Registry) publish(ev events.Event) {
	if r.bus != nil {
		r.bus.Publish(ev)
	}
}

func generateSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b) // crypto/rand.Read always succeeds on supported platforms
	return hex.EncodeToString(b)
}
