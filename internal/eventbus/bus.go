// Package eventbus is a single-process typed publish/subscribe bus over the
// closed model.EventType enumeration.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// Handler receives a published Event. A handler that panics or returns is
// isolated from sibling handlers — the bus recovers and logs, never aborts
// the emission.
type Handler func(model.Event)

// wildcard is the subscription key that receives every event type.
const wildcard = model.EventType("*")

// Bus is a synchronous, FIFO, single-process event bus.
//
// Delivery order within one emission is insertion (subscription) order.
// Handlers are invoked on the emitting goroutine — callers that must not
// block the coordinator should hand off work to their own goroutine inside
// the handler.
type Bus struct {
	mu   sync.RWMutex
	subs map[model.EventType][]subscription
	seq  uint64
}

type subscription struct {
	id      string
	handler Handler
	once    bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[model.EventType][]subscription)}
}

// singleton access is a test affordance, not a core requirement. Prefer
// New() + dependency injection in production code.
var (
	instance     *Bus
	instanceOnce sync.Once
	instanceMu   sync.Mutex
)

// Instance returns the process-wide singleton bus, for callers (mainly
// tests) that cannot thread a *Bus through.
func Instance() *Bus {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = New()
	}
	return instance
}

// ResetInstance discards the singleton bus. Test affordance only.
func ResetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = New()
}

// On subscribes handler to type t, returning an unsubscribe function.
func (b *Bus) On(t model.EventType, handler Handler) func() {
	return b.subscribe(t, handler, false)
}

// Once subscribes handler to type t for exactly one delivery.
func (b *Bus) Once(t model.EventType, handler Handler) func() {
	return b.subscribe(t, handler, true)
}

func (b *Bus) subscribe(t model.EventType, handler Handler, once bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	id := uuid.NewString()
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: handler, once: once})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[t]
		for i, s := range list {
			if s.id == id {
				b.subs[t] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit publishes an event of the given type with the given payload,
// stamping its Timestamp with time.Now(). Use EmitAt to supply the
// timestamp instead (useful for deterministic tests).
func (b *Bus) Emit(t model.EventType, projectID string, data map[string]any) {
	b.EmitAt(time.Now(), t, projectID, data)
}

// EmitAt is Emit with an explicit timestamp.
func (b *Bus) EmitAt(at time.Time, t model.EventType, projectID string, data map[string]any) {
	ev := model.Event{Type: t, Timestamp: at, ProjectID: projectID, Data: data}

	b.mu.RLock()
	direct := append([]subscription(nil), b.subs[t]...)
	wild := append([]subscription(nil), b.subs[wildcard]...)
	b.mu.RUnlock()

	b.dispatch(ev, direct)
	b.dispatch(ev, wild)

	var onceIDs []string
	for _, s := range direct {
		if s.once {
			onceIDs = append(onceIDs, s.id)
		}
	}
	for _, s := range wild {
		if s.once {
			onceIDs = append(onceIDs, s.id)
		}
	}
	if len(onceIDs) > 0 {
		b.removeIDs(t, onceIDs)
		b.removeIDs(wildcard, onceIDs)
	}
}

func (b *Bus) dispatch(ev model.Event, subs []subscription) {
	for _, s := range subs {
		b.safeInvoke(s.handler, ev)
	}
}

func (b *Bus) safeInvoke(h Handler, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "event_type", ev.Type, "recover", r)
		}
	}()
	h(ev)
}

func (b *Bus) removeIDs(t model.EventType, ids []string) {
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var kept []subscription
	for _, s := range b.subs[t] {
		if !remove[s.id] {
			kept = append(kept, s)
		}
	}
	b.subs[t] = kept
}
