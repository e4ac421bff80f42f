package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/hotlabel/internal/logging"
)

// Handler is a function that handles an event.
type Handler func(Event)

// Wildcard is the event type that receives every published event.
const Wildcard = "*"

type subscription struct {
	id      string
	handler Handler
}

// Bus is a synchronous pub-sub event bus. Task stores, the reconciler and
// the evaluator publish on it; stats, the evaluator runner and the pool
// monitor subscribe without the publishers knowing about them.
type Bus struct {
	mu     sync.RWMutex
	byType map[string][]subscription // event type -> handlers in order
	types  map[string]string         // subscription id -> event type
	nextID atomic.Uint64
	panics atomic.Uint64
	logger *logging.Logger
}

// NewBus creates a new event bus. A nil logger discards handler panics
// after recovering them.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{
		byType: make(map[string][]subscription),
		types:  make(map[string]string),
		logger: logger.WithComponent("event-bus"),
	}
}

// Subscribe registers a handler for one event type and returns the id
// used to unsubscribe it.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	id := fmt.Sprintf("sub-%d", b.nextID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})
	b.types[id] = eventType
	return id
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// Unsubscribe removes a subscription by id and reports whether it existed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.types[id]
	if !ok {
		return false
	}
	delete(b.types, id)

	// Copy on removal: Publish may still be iterating the old slice.
	subs := b.byType[eventType]
	next := make([]subscription, 0, len(subs)-1)
	for _, sub := range subs {
		if sub.id != id {
			next = append(next, sub)
		}
	}
	if len(next) == 0 {
		delete(b.byType, eventType)
	} else {
		b.byType[eventType] = next
	}
	return true
}

// Publish delivers event to the handlers of its type, then to wildcard
// handlers, each group in registration order. A panicking handler is
// logged and counted; delivery continues.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	specific := b.byType[event.EventType()]
	wildcard := b.byType[Wildcard]
	b.mu.RUnlock()

	for _, sub := range specific {
		b.deliver(sub, event)
	}
	for _, sub := range wildcard {
		b.deliver(sub, event)
	}
}

func (b *Bus) deliver(sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.logger.Error("event handler panicked",
				"event_type", event.EventType(),
				"subscription", sub.id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	sub.handler(event)
}

// HandlerPanics returns how many handler panics have been recovered.
func (b *Bus) HandlerPanics() uint64 {
	return b.panics.Load()
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.types)
}

// Group collects the subscriptions of one component so they can be
// detached together.
type Group struct {
	bus *Bus
	mu  sync.Mutex
	ids []string
}

// Group starts an empty subscription group on the bus.
func (b *Bus) Group() *Group {
	return &Group{bus: b}
}

// On subscribes handler to eventType as part of the group.
func (g *Group) On(eventType string, handler Handler) *Group {
	id := g.bus.Subscribe(eventType, handler)
	g.mu.Lock()
	g.ids = append(g.ids, id)
	g.mu.Unlock()
	return g
}

// Len returns the number of live subscriptions in the group.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// Close unsubscribes every handler in the group. It is safe to call more
// than once.
func (g *Group) Close() {
	g.mu.Lock()
	ids := g.ids
	g.ids = nil
	g.mu.Unlock()

	for _, id := range ids {
		g.bus.Unsubscribe(id)
	}
}
