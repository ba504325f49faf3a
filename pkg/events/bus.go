// Package events implements a typed publish/subscribe bus used by the
// engine to notify the presentation layer of fetch progress, serves and
// failures without coupling components to each other.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/moeview/moeview/internal/logger"
	"github.com/moeview/moeview/pkg/booru"
)

// Type identifies one event kind.
type Type int

const (
	FetchStarted Type = iota
	FetchProgress
	FetchCompleted
	FetchFailed
	FetchCancelled
	ItemServed
	CacheUpdated
	WindowChanged
)

// String returns the event type name.
func (t Type) String() string {
	switch t {
	case FetchStarted:
		return "fetch_started"
	case FetchProgress:
		return "fetch_progress"
	case FetchCompleted:
		return "fetch_completed"
	case FetchFailed:
		return "fetch_failed"
	case FetchCancelled:
		return "fetch_cancelled"
	case ItemServed:
		return "item_served"
	case CacheUpdated:
		return "cache_updated"
	case WindowChanged:
		return "window_changed"
	default:
		return "unknown"
	}
}

// Event carries one notification. Fields beyond Type are filled per kind:
// fetch events carry Item/Fetched/Total, failures carry Err, window events
// carry Position/WindowSize.
type Event struct {
	Type       Type
	Item       booru.ItemID
	Fetched    int64
	Total      int64
	Err        error
	Position   int
	WindowSize int
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Subscription is a handle that removes its handler when disposed.
type Subscription struct {
	bus   *Bus
	typ   Type
	id    uint64
	owner string
}

// Dispose removes the subscription. Safe to call more than once.
func (s *Subscription) Dispose() {
	s.bus.unsubscribe(s.typ, s.id)
}

// Bus is a thread-safe publish/subscribe dispatcher with token-based
// subscription lifecycle and per-owner bulk removal.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type]map[uint64]*subscriber
	nextID   atomic.Uint64

	published atomic.Uint64
	delivered atomic.Uint64
}

type subscriber struct {
	fn    Handler
	owner string
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type]map[uint64]*subscriber)}
}

// Subscribe registers a handler for one event type. The owner tag allows
// bulk removal via UnsubscribeOwner.
func (b *Bus) Subscribe(typ Type, owner string, fn Handler) *Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[typ] == nil {
		b.handlers[typ] = make(map[uint64]*subscriber)
	}
	b.handlers[typ][id] = &subscriber{fn: fn, owner: owner}

	return &Subscription{bus: b, typ: typ, id: id, owner: owner}
}

func (b *Bus) unsubscribe(typ Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers[typ], id)
}

// UnsubscribeOwner removes every subscription registered under an owner
// tag. Returns the number removed.
func (b *Bus) UnsubscribeOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for _, subs := range b.handlers {
		for id, sub := range subs {
			if sub.owner == owner {
				delete(subs, id)
				removed++
			}
		}
	}
	return removed
}

// Publish delivers an event to all handlers subscribed to its type. A
// panicking handler is logged and skipped; other handlers still run.
func (b *Bus) Publish(ev Event) {
	b.published.Add(1)

	b.mu.RLock()
	subs := make([]Handler, 0, len(b.handlers[ev.Type]))
	for _, sub := range b.handlers[ev.Type] {
		subs = append(subs, sub.fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(ev, fn)
	}
}

func (b *Bus) deliver(ev Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				logger.KeyState, ev.Type.String(),
				logger.KeyError, r)
		}
	}()
	fn(ev)
	b.delivered.Add(1)
}

// Stats returns total published and delivered event counts.
func (b *Bus) Stats() (published, delivered uint64) {
	return b.published.Load(), b.delivered.Load()
}
