package kura

import (
	"reflect"
	"sync"
)

// EventBus delivers lifecycle notifications from caches and registries to
// whoever subscribed for that event type. Handlers are called synchronously
// on the publishing goroutine, in subscription order, and must not block.
//
// A registry publishes from inside Remove, which may itself run during a
// teardown that holds other locks; handlers should only record what happened.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]any
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[reflect.Type][]any)}
}

// Subscribe registers handler for events of type T.
func Subscribe[T any](bus *EventBus, handler func(T)) {
	t := reflect.TypeFor[T]()
	bus.mu.Lock()
	if bus.handlers == nil {
		bus.handlers = make(map[reflect.Type][]any)
	}
	if cap(bus.handlers[t]) == 0 {
		bus.handlers[t] = make([]any, 0, 4)
	}
	bus.handlers[t] = append(bus.handlers[t], handler)
	bus.mu.Unlock()
}

// Publish sends event to every handler subscribed for T. Publishing on a nil
// bus does nothing, so components can publish unconditionally.
func Publish[T any](bus *EventBus, event T) {
	if bus == nil {
		return
	}
	bus.mu.RLock()
	hs := bus.handlers[reflect.TypeFor[T]()]
	bus.mu.RUnlock()
	for _, h := range hs {
		h.(func(T))(event)
	}
}

// CacheReloaded is published after a key's new snapshot is swapped in.
type CacheReloaded[K comparable] struct {
	Key K
}

// CacheReloadFailed is published when a reload's Load fails. The previous
// snapshot is still in place.
type CacheReloadFailed[K comparable] struct {
	Key K
	Err error
}

// ObjectLinked is published when an entry is linked to its entity.
type ObjectLinked[E comparable] struct {
	Entity E
	Index  ObjectTableIndex
}

// ObjectRemoved is published when an entry leaves the registry. Its external
// handle is detached later.
type ObjectRemoved struct {
	Index ObjectTableIndex
}

// CleanupDrained is published after deferred detachments ran.
type CleanupDrained struct {
	Count int
}
