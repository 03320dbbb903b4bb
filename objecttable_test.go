package kura

import (
	"sync"
	"testing"
)

// lockedNames is a NameTable guarded by a non-reentrant mutex, like a
// scripting runtime's object table.
type lockedNames struct {
	mu      sync.Mutex
	bound   map[string]ObjectTableIndex
	unbinds int
}

func newLockedNames() *lockedNames {
	return &lockedNames{bound: make(map[string]ObjectTableIndex)}
}

func (n *lockedNames) Bind(h string, idx ObjectTableIndex) {
	n.mu.Lock()
	n.bound[h] = idx
	n.mu.Unlock()
}

func (n *lockedNames) Unbind(h string, idx ObjectTableIndex) {
	n.mu.Lock()
	if n.bound[h] == idx {
		delete(n.bound, h)
	}
	n.unbinds++
	n.mu.Unlock()
}

func (n *lockedNames) lookup(h string) (ObjectTableIndex, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx, ok := n.bound[h]
	return idx, ok
}

type testRegistry = ObjectTableRegistry[Entity, string]

func withRegistry(t *testing.T, opts ...RegistryOption) (*Shared[testRegistry], *lockedNames) {
	t.Helper()
	names := newLockedNames()
	cell := NewObjectTableRegistry[Entity, string](names, opts...)
	t.Cleanup(cell.Release)
	return cell, names
}

// go test -run ^TestObjectTableRoundTrip$ . -count 1
func TestObjectTableRoundTrip(t *testing.T) {
	cell, names := withRegistry(t)
	es := NewEntities(4)
	e := es.Spawn()

	reg := cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()

	c := r.InsertPartial("table-1")
	entry, ok := r.ByIndex(c.Index())
	if !ok {
		t.Fatal("expected partial entry to be found by index")
	}
	if entry.Linked() {
		t.Error("expected partial entry to have no entity")
	}
	if _, ok := r.ByEntity(e); ok {
		t.Error("expected no entry by entity before Link")
	}
	if idx, ok := names.lookup("table-1"); !ok || idx != c.Index() {
		t.Error("expected handle to be bound in the name table")
	}

	r.Link(e, c.Index())
	entry, ok = r.ByEntity(e)
	if !ok {
		t.Fatal("expected entry by entity after Link")
	}
	if got, _ := entry.Entity(); got != e {
		t.Errorf("expected %v, got %v", e, got)
	}
	if entry.Handle() != "table-1" {
		t.Errorf("expected table-1, got %s", entry.Handle())
	}
	if idx, ok := r.IndexOf(e); !ok || idx != c.Index() {
		t.Error("expected IndexOf to return the linked index")
	}

	if !r.Remove(c.Index()) {
		t.Fatal("expected Remove to succeed")
	}
	if _, ok := r.ByEntity(e); ok {
		t.Error("expected no entry by entity after Remove")
	}
	if _, ok := r.ByIndex(c.Index()); ok {
		t.Error("expected no entry by index after Remove")
	}
	if r.Remove(c.Index()) {
		t.Error("expected second Remove to report false")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

// go test -run ^TestObjectTableSlotReuse$ . -count 1
func TestObjectTableSlotReuse(t *testing.T) {
	cell, _ := withRegistry(t)
	reg := cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()

	old := r.Insert("a", Entity{ID: 1, Version: 1}).Index()
	r.Remove(old)
	fresh := r.InsertPartial("b").Index()
	if fresh.Slot != old.Slot {
		t.Fatalf("expected slot %d to be reused, got %d", old.Slot, fresh.Slot)
	}
	if fresh.Generation != old.Generation+1 {
		t.Errorf("expected generation %d, got %d", old.Generation+1, fresh.Generation)
	}
	if _, ok := r.ByIndex(old); ok {
		t.Error("expected stale index not to resolve to the new entry")
	}
	if _, ok := r.ByEntity(Entity{ID: 1, Version: 1}); ok {
		t.Error("expected the removed entity to stay unlinked")
	}
	expectPanic(t, func() { r.Link(Entity{ID: 2, Version: 1}, old) })
}

// go test -run ^TestObjectTableDeferredCleanup$ . -count 1
func TestObjectTableDeferredCleanup(t *testing.T) {
	cell, names := withRegistry(t)

	reg := cell.BorrowMut()
	c := reg.Get().Insert("dead", Entity{ID: 0, Version: 1})
	reg.Release()

	// Despawn runs while the scripting side holds its object table lock.
	// Drop must not reach for the name table or this would deadlock.
	names.mu.Lock()
	c.Drop()
	names.mu.Unlock()

	reg = cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()
	if _, ok := r.ByIndex(c.Index()); ok {
		t.Error("expected the entry to be removed by Drop")
	}
	if _, ok := names.lookup("dead"); !ok {
		t.Error("expected the name table binding to survive until the next insert")
	}
	if r.Pending() != 1 {
		t.Errorf("expected 1 pending detachment, got %d", r.Pending())
	}

	r.InsertPartial("next")
	if _, ok := names.lookup("dead"); ok {
		t.Error("expected the next insert to detach the dead handle")
	}
	if r.Pending() != 0 {
		t.Errorf("expected no pending work, got %d", r.Pending())
	}
	if names.unbinds != 1 {
		t.Errorf("expected 1 unbind, got %d", names.unbinds)
	}
}

// go test -run ^TestObjectTableInjective$ . -count 1
func TestObjectTableInjective(t *testing.T) {
	cell, _ := withRegistry(t)
	reg := cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()
	e := Entity{ID: 3, Version: 1}

	a := r.InsertPartial("a").Index()
	b := r.InsertPartial("b").Index()
	r.Link(e, a)
	r.Link(e, a) // same pair, no-op
	expectPanic(t, func() { r.Link(e, b) })

	t.Run("Entry linked to another entity", func(t *testing.T) {
		expectPanic(t, func() { r.Link(Entity{ID: 4, Version: 1}, a) })
	})
}

// go test -run ^TestObjectTableContendedDrop$ . -count 1
func TestObjectTableContendedDrop(t *testing.T) {
	cell, names := withRegistry(t)

	reg := cell.BorrowMut()
	r := reg.Get()
	c := r.Insert("busy", Entity{ID: 0, Version: 1})
	// Drop while the registry itself is borrowed: queued, not removed.
	c.Drop()
	if _, ok := r.ByIndex(c.Index()); !ok {
		t.Error("expected a contended drop to be deferred")
	}
	if r.Pending() != 1 {
		t.Errorf("expected 1 queued removal, got %d", r.Pending())
	}
	r.InsertPartial("other")
	if _, ok := r.ByIndex(c.Index()); ok {
		t.Error("expected the queued removal to run on insert")
	}
	if _, ok := names.lookup("busy"); ok {
		t.Error("expected the queued removal to be detached too")
	}
	reg.Release()

	c.Drop() // second drop is a no-op
}

// go test -run ^TestObjectTableFlush$ . -count 1
func TestObjectTableFlush(t *testing.T) {
	bus := NewEventBus()
	var removed, drained, linked int
	Subscribe(bus, func(ObjectRemoved) { removed++ })
	Subscribe(bus, func(e CleanupDrained) { drained += e.Count })
	Subscribe(bus, func(ObjectLinked[Entity]) { linked++ })
	cell, names := withRegistry(t, WithRegistryEvents(bus), WithArenaCapacity(2))

	reg := cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()
	for i := range 3 {
		c := r.Insert(string(rune('a'+i)), Entity{ID: uint32(i), Version: 1})
		r.Remove(c.Index())
	}
	r.Flush()
	if r.Pending() != 0 {
		t.Errorf("expected nothing pending after Flush, got %d", r.Pending())
	}
	if len(names.bound) != 0 {
		t.Errorf("expected empty name table, got %v", names.bound)
	}
	if removed != 3 || drained != 3 || linked != 3 {
		t.Errorf("expected 3/3/3 events, got removed=%d drained=%d linked=%d", removed, drained, linked)
	}
}

// go test -run ^TestObjectTableRebind$ . -count 1
func TestObjectTableRebind(t *testing.T) {
	cell, names := withRegistry(t)
	reg := cell.BorrowMut()
	defer reg.Release()
	r := reg.Get()

	first := r.InsertPartial("same").Index()
	second := r.InsertPartial("same").Index()
	r.Remove(first)
	r.Flush()
	if idx, ok := names.lookup("same"); !ok || idx != second {
		t.Error("expected detaching the old entry to keep the newer binding")
	}
}

// go test -run ^TestObjectTableDropAfterRegistry$ . -count 1
func TestObjectTableDropAfterRegistry(t *testing.T) {
	names := newLockedNames()
	cell := NewObjectTableRegistry[Entity, string](names)
	reg := cell.BorrowMut()
	c := reg.Get().InsertPartial("orphan")
	reg.Release()
	cell.Release()
	c.Drop() // registry is gone; nothing to do
}

// go test -run ^TestObjectTableClear$ . -count 1
func TestObjectTableClear(t *testing.T) {
	bus := NewEventBus()
	var removed int
	Subscribe(bus, func(ObjectRemoved) { removed++ })
	cell, names := withRegistry(t, WithRegistryEvents(bus))
	reg := cell.BorrowMut()
	r := reg.Get()

	linked := r.Insert("a", Entity{ID: 0, Version: 1})
	partial := r.InsertPartial("b")
	r.Clear()
	if r.Len() != 0 {
		t.Errorf("expected no entries, got %d", r.Len())
	}
	if _, ok := r.ByEntity(Entity{ID: 0, Version: 1}); ok {
		t.Error("expected the entity to be unlinked")
	}
	if _, ok := r.ByIndex(partial.Index()); ok {
		t.Error("expected indices taken before Clear to be stale")
	}
	if r.Pending() != 2 || removed != 2 {
		t.Errorf("expected 2 pending detachments and 2 events, got %d and %d", r.Pending(), removed)
	}
	r.Flush()
	if len(names.bound) != 0 {
		t.Errorf("expected empty name table, got %v", names.bound)
	}
	reg.Release()

	linked.Drop() // stale after Clear
	reg = cell.BorrowMut()
	defer reg.Release()
	if reg.Get().Pending() != 0 || removed != 2 {
		t.Errorf("expected a stale drop to do nothing, got %d pending", reg.Get().Pending())
	}
}
