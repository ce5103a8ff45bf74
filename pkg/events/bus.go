// Package events provides the in-process pub/sub bus used for informational
// fan-out of protocol lifecycle events. The bus is never on the critical
// path of request dispatch: publishing never blocks, and slow subscribers
// drop events.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	ConnectionOpened Type = "connection.opened"
	ConnectionClosed Type = "connection.closed"
	RequestAccepted  Type = "request.accepted"
	RequestCompleted Type = "request.completed"
	ToolRegistered   Type = "tool.registered"
	ToolUnregistered Type = "tool.unregistered"
	ServerDraining   Type = "server.draining"
)

// Event is one bus message. Fields that don't apply to the event type are
// left zero.
type Event struct {
	Type         Type
	Time         time.Time
	ConnectionID string
	Transport    string
	RequestID    string
	Method       string
	Tool         string
	ErrorCode    int
	Elapsed      time.Duration
}

// Subscription is one subscriber's view of the bus. Receive on C; call
// Cancel when done. After Cancel, C is closed.
type Subscription struct {
	C       chan Event
	bus     *Bus
	id      int
	dropped atomic.Int64
	once    sync.Once
}

// Dropped returns how many events were discarded because the subscriber
// was not keeping up.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Cancel removes the subscription from the bus and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.C)
	})
}

// Bus is an in-process event fan-out.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*Subscription
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers a subscriber with the given channel buffer. A buffer
// of zero gets a small default; an unbuffered subscriber would drop
// everything.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{C: make(chan Event, buffer), bus: b, id: b.nextID}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers an event to every subscriber without blocking. The
// event time is stamped here if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}
