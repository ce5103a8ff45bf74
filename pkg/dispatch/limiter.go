package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull is returned when every dispatch slot is busy and the wait
// queue is at capacity.
var ErrQueueFull = errors.New("dispatch queue full")

// Limits configures dispatch capacity.
type Limits struct {
	// Global caps in-flight tool calls across the whole server (default 200).
	Global int
	// PerTool caps in-flight calls per tool (default 32).
	PerTool int
	// PerToolOverride overrides PerTool for specific fully-qualified names.
	PerToolOverride map[string]int
	// PerConnStream caps in-flight calls per WS/SSE connection (default 32).
	PerConnStream int
	// QueueDepth bounds the FIFO that requests wait in when slots are
	// exhausted (default 256). Zero queueing means immediate backpressure.
	QueueDepth int
}

func (l Limits) withDefaults() Limits {
	if l.Global <= 0 {
		l.Global = 200
	}
	if l.PerTool <= 0 {
		l.PerTool = 32
	}
	if l.PerConnStream <= 0 {
		l.PerConnStream = 32
	}
	if l.QueueDepth <= 0 {
		l.QueueDepth = 256
	}
	return l
}

// Limiter hands out dispatch slots: one global, one per-tool, and one
// per-connection slot must all be held before a tool call runs. Requests
// that cannot acquire immediately wait in a bounded FIFO.
type Limiter struct {
	limits Limits
	global chan struct{}
	queue  chan struct{}

	mu    sync.Mutex
	tools map[string]chan struct{}
	conns map[string]chan struct{}
}

// NewLimiter creates a limiter with the given limits (zero values take
// defaults).
func NewLimiter(limits Limits) *Limiter {
	limits = limits.withDefaults()
	return &Limiter{
		limits: limits,
		global: make(chan struct{}, limits.Global),
		queue:  make(chan struct{}, limits.QueueDepth),
		tools:  make(map[string]chan struct{}),
		conns:  make(map[string]chan struct{}),
	}
}

func (l *Limiter) toolSlots(tool string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.tools[tool]
	if !ok {
		cap := l.limits.PerTool
		if o, has := l.limits.PerToolOverride[tool]; has && o > 0 {
			cap = o
		}
		ch = make(chan struct{}, cap)
		l.tools[tool] = ch
	}
	return ch
}

func (l *Limiter) connSlots(connID string, limit int) chan struct{} {
	if limit <= 0 {
		limit = l.limits.PerConnStream
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.conns[connID]
	if !ok {
		ch = make(chan struct{}, limit)
		l.conns[connID] = ch
	}
	return ch
}

// ForgetConnection drops the per-connection slot bookkeeping once a
// connection is closed.
func (l *Limiter) ForgetConnection(connID string) {
	l.mu.Lock()
	delete(l.conns, connID)
	l.mu.Unlock()
}

// TrackedConnections returns the number of connections with per-connection
// slot bookkeeping still allocated.
func (l *Limiter) TrackedConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// InFlight returns the number of currently held global slots.
func (l *Limiter) InFlight() int {
	return len(l.global)
}

// Acquire obtains all three slots for a tool call. connLimit of 1 is used
// for one-shot HTTP connections; 0 takes the stream default. The returned
// release function must be called exactly once.
//
// Fast path: all three slots free. Otherwise the request takes a queue
// slot and waits; a full queue fails immediately with ErrQueueFull, and a
// cancelled or expired context aborts the wait with ctx.Err().
func (l *Limiter) Acquire(ctx context.Context, tool, connID string, connLimit int) (func(), error) {
	toolCh := l.toolSlots(tool)
	connCh := l.connSlots(connID, connLimit)

	release := func() {
		<-l.global
		<-toolCh
		<-connCh
	}

	if tryAcquire(l.global) {
		if tryAcquire(toolCh) {
			if tryAcquire(connCh) {
				return release, nil
			}
			<-toolCh
		}
		<-l.global
	}

	// Slow path: join the queue.
	select {
	case l.queue <- struct{}{}:
	default:
		return nil, ErrQueueFull
	}
	defer func() { <-l.queue }()

	// Slots are acquired in a fixed order so queued requests cannot
	// deadlock against each other.
	held := make([]chan struct{}, 0, 3)
	for _, ch := range []chan struct{}{l.global, toolCh, connCh} {
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			for _, h := range held {
				<-h
			}
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func tryAcquire(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}
