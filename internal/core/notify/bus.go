// Package notify is a process-wide notification channel for transient,
// user-visible events (a failed sync, a failed mail send). Producers
// publish; any number of subscribers receive every event.
package notify

import "sync"

// Event kinds.
const (
	KindError   = "error"
	KindSuccess = "success"
	KindInfo    = "info"
)

// Event is one notification.
type Event struct {
	Kind   string
	Title  string
	Detail string
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, h := range subs {
		h(e)
	}
}
