// Package syncbus is the in-process push-event stream connecting the
// write path (batch updates) to live query subscriptions. It is a plain
// broadcast bus: named events, multiple subscribers, no ownership.
package syncbus

import "sync"

// Event names used by the data core.
const (
	SyncEventName      = "sync-event"
	OrphanedPayeesName = "orphaned-payees"
)

// Sync event types. Applied marks a local/optimistic change; Success a
// confirmed remote sync.
const (
	TypeApplied = "applied"
	TypeSuccess = "success"
)

// Event is the payload carried on SyncEventName.
type Event struct {
	Type   string
	Tables []string
}

// Handler receives a published payload. Delivery order across
// subscribers is unspecified.
type Handler func(payload any)

// Bus is a broadcast channel for named events.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Listen subscribes fn to event and returns an unsubscribe func. The
// unsubscribe func is idempotent.
func (b *Bus) Listen(event string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[event] == nil {
		b.subs[event] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[event][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[event], id)
	}
}

// Publish delivers payload to every current subscriber of event,
// synchronously, outside the bus lock.
func (b *Bus) Publish(event string, payload any) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[event]))
	for _, fn := range b.subs[event] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(payload)
	}
}
