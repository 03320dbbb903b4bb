package kura

import (
	"sync"
	"testing"
)

type testEvent struct {
	Value int
}

type otherEvent struct {
	Name string
}

func TestEventBusSubscribeAndPublish(t *testing.T) {
	bus := NewEventBus()
	received := 0
	Subscribe(bus, func(e testEvent) {
		received += e.Value
	})
	Subscribe(bus, func(e testEvent) {
		received += e.Value * 2
	})
	Publish(bus, testEvent{Value: 1})
	if received != 3 {
		t.Errorf("expected received 3, got %d", received)
	}
	Publish(bus, testEvent{Value: 2})
	if received != 3+6 {
		t.Errorf("expected received 9, got %d", received)
	}
}

func TestEventBusMultipleTypes(t *testing.T) {
	bus := &EventBus{}
	received1 := 0
	received2 := ""
	Subscribe(bus, func(e testEvent) {
		received1 += e.Value
	})
	Subscribe(bus, func(e otherEvent) {
		received2 = e.Name
	})
	Publish(bus, testEvent{Value: 42})
	Publish(bus, otherEvent{Name: "ok"})
	if received1 != 42 {
		t.Errorf("expected received1 42, got %d", received1)
	}
	if received2 != "ok" {
		t.Errorf("expected received2 ok, got %q", received2)
	}
}

func TestEventBusGenericEventTypes(t *testing.T) {
	bus := NewEventBus()
	var strKeys, intKeys int
	Subscribe(bus, func(CacheReloaded[string]) { strKeys++ })
	Subscribe(bus, func(CacheReloaded[int]) { intKeys++ })
	Publish(bus, CacheReloaded[string]{Key: "a"})
	if strKeys != 1 || intKeys != 0 {
		t.Errorf("expected instantiations to be distinct event types, got %d/%d", strKeys, intKeys)
	}
}

func TestEventBusNoHandlers(t *testing.T) {
	bus := NewEventBus()
	// No panic expected
	Publish(bus, testEvent{Value: 42})
	var nilBus *EventBus
	Publish(nilBus, testEvent{Value: 42})
}

func TestEventBusSubscribeFromHandler(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	Subscribe(bus, func(testEvent) {
		calls++
		Subscribe(bus, func(testEvent) { calls++ })
	})
	Publish(bus, testEvent{})
	if calls != 1 {
		t.Errorf("expected late subscriber to miss the current event, got %d calls", calls)
	}
}

func TestEventBusConcurrentPublish(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	received := 0
	Subscribe(bus, func(e testEvent) {
		mu.Lock()
		received += e.Value
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				Publish(bus, testEvent{Value: 1})
			}
		}()
	}
	wg.Wait()
	if received != 800 {
		t.Errorf("expected 800, got %d", received)
	}
}
