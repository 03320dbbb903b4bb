package kura

import (
	"sync"
	"sync/atomic"
)

// ObjectTableIndex identifies an entry in an ObjectTableRegistry. It is only
// valid while its generation matches the slot's; after the entry is removed
// it never resolves again, even if the slot is reused.
type ObjectTableIndex struct {
	Index
}

// NameTable is the external side's lookup from an external handle back to its
// registry entry (the scripting runtime's object table). The registry calls
// Bind when an entry is created and Unbind, deferred, after it is removed.
// Unbind must leave the binding alone if h has since been bound to another
// index.
type NameTable[H comparable] interface {
	Bind(h H, idx ObjectTableIndex)
	Unbind(h H, idx ObjectTableIndex)
}

// ObjectTableEntry links an external handle to the entity it represents. An
// entry without an entity is partial: the handle is registered but nothing
// has been linked to it yet.
type ObjectTableEntry[E comparable, H comparable] struct {
	handle H
	entity E
	linked bool
}

// Handle returns the external handle.
func (e ObjectTableEntry[E, H]) Handle() H {
	return e.handle
}

// Entity returns the linked entity, or false for a partial entry.
func (e ObjectTableEntry[E, H]) Entity() (E, bool) {
	return e.entity, e.linked
}

// Linked reports whether an entity has been linked.
func (e ObjectTableEntry[E, H]) Linked() bool {
	return e.linked
}

type detachment[H comparable] struct {
	handle H
	index  ObjectTableIndex
}

// orphanQueue holds indices whose component was dropped while the registry
// cell was borrowed. It has its own lock so Drop never waits on the registry.
type orphanQueue struct {
	mu      sync.Mutex
	indices []ObjectTableIndex
}

func (q *orphanQueue) push(idx ObjectTableIndex) {
	q.mu.Lock()
	q.indices = append(q.indices, idx)
	q.mu.Unlock()
}

func (q *orphanQueue) take() []ObjectTableIndex {
	q.mu.Lock()
	out := q.indices
	q.indices = nil
	q.mu.Unlock()
	return out
}

func (q *orphanQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.indices)
}

// ObjectTableRegistry maps entities of type E to externally owned objects
// identified by handles of type H.
//
// There are two lookups. The registry itself maps entities to indices and
// indices to entries. The NameTable, owned by the external side, maps handles
// back to indices. Entries are created partial by InsertPartial, since the
// external object usually exists before its entity does, and completed by
// Link.
//
// Remove does not touch the NameTable. It is called when an entity's
// component is dropped, and that can happen while the external side already
// holds the lock its NameTable needs. The removed handle is queued instead and
// unbound at the start of the next InsertPartial, or by Flush.
//
// The registry lives in a Shared cell and is used through it by one logical
// owner at a time.
type ObjectTableRegistry[E comparable, H comparable] struct {
	objects  *Arena[ObjectTableEntry[E, H]]
	entities map[E]ObjectTableIndex
	cleanup  []detachment[H]
	names    NameTable[H]
	self     Weak[ObjectTableRegistry[E, H]]
	orphans  *orphanQueue
	bus      *EventBus
}

// NewObjectTableRegistry returns an empty registry in its own Shared cell.
func NewObjectTableRegistry[E comparable, H comparable](names NameTable[H], opts ...RegistryOption) *Shared[ObjectTableRegistry[E, H]] {
	cfg := registryConfig{capacity: 64}
	for _, opt := range opts {
		opt(&cfg)
	}
	cell := NewShared(ObjectTableRegistry[E, H]{
		objects:  NewArena[ObjectTableEntry[E, H]](cfg.capacity),
		entities: make(map[E]ObjectTableIndex, cfg.capacity),
		names:    names,
		orphans:  &orphanQueue{},
		bus:      cfg.bus,
	})
	reg := cell.BorrowMut()
	reg.Get().self = cell.Downgrade()
	reg.Release()
	return cell
}

// InsertPartial registers h without an entity and binds it in the NameTable.
// Before allocating, it finishes every deferred removal and detachment, so
// cleanup queued by earlier removals is done by the time it returns.
func (r *ObjectTableRegistry[E, H]) InsertPartial(h H) *ObjectTableComponent[E, H] {
	r.Flush()
	idx := ObjectTableIndex{r.objects.Insert(ObjectTableEntry[E, H]{handle: h})}
	r.names.Bind(h, idx)
	return &ObjectTableComponent[E, H]{index: idx, registry: r.self, orphans: r.orphans}
}

// Link completes a partial entry. It panics if idx is stale, if entity is
// already linked to a different entry, or if the entry is already linked to a
// different entity. Linking the same pair again does nothing.
func (r *ObjectTableRegistry[E, H]) Link(entity E, idx ObjectTableIndex) {
	entry, ok := r.objects.Get(idx.Index)
	if !ok {
		fatalf("link of stale object table index %v", idx)
	}
	if cur, ok := r.entities[entity]; ok {
		if cur == idx {
			return
		}
		fatalf("entity %v is already linked to object table index %v", entity, cur)
	}
	if entry.linked {
		fatalf("object table index %v is already linked to entity %v", idx, entry.entity)
	}
	entry.entity = entity
	entry.linked = true
	r.entities[entity] = idx
	Publish(r.bus, ObjectLinked[E]{Entity: entity, Index: idx})
}

// Insert is InsertPartial followed by Link.
func (r *ObjectTableRegistry[E, H]) Insert(h H, entity E) *ObjectTableComponent[E, H] {
	c := r.InsertPartial(h)
	r.Link(entity, c.index)
	return c
}

// ComponentAt returns another component for the live entry at idx. Dropping
// any one of an entry's components removes it; later drops do nothing.
func (r *ObjectTableRegistry[E, H]) ComponentAt(idx ObjectTableIndex) (*ObjectTableComponent[E, H], bool) {
	if !r.objects.Contains(idx.Index) {
		return nil, false
	}
	return &ObjectTableComponent[E, H]{index: idx, registry: r.self, orphans: r.orphans}, true
}

// ByIndex looks up an entry. Stale indices find nothing.
func (r *ObjectTableRegistry[E, H]) ByIndex(idx ObjectTableIndex) (ObjectTableEntry[E, H], bool) {
	entry, ok := r.objects.Get(idx.Index)
	if !ok {
		return ObjectTableEntry[E, H]{}, false
	}
	return *entry, true
}

// ByEntity looks up the entry linked to entity.
func (r *ObjectTableRegistry[E, H]) ByEntity(entity E) (ObjectTableEntry[E, H], bool) {
	idx, ok := r.entities[entity]
	if !ok {
		return ObjectTableEntry[E, H]{}, false
	}
	return r.ByIndex(idx)
}

// IndexOf returns the index linked to entity.
func (r *ObjectTableRegistry[E, H]) IndexOf(entity E) (ObjectTableIndex, bool) {
	idx, ok := r.entities[entity]
	return idx, ok
}

// Remove frees the entry at idx and unlinks its entity. The handle's NameTable
// binding is left for the next InsertPartial or Flush. Returns false if idx is
// stale.
func (r *ObjectTableRegistry[E, H]) Remove(idx ObjectTableIndex) bool {
	entry, ok := r.objects.Remove(idx.Index)
	if !ok {
		return false
	}
	if entry.linked {
		delete(r.entities, entry.entity)
	}
	r.cleanup = append(r.cleanup, detachment[H]{handle: entry.handle, index: idx})
	Publish(r.bus, ObjectRemoved{Index: idx})
	return true
}

// Flush runs deferred work now: removals queued by contended drops, then
// NameTable detachments. It must not be called while the NameTable's owner is
// locked. Call it at shutdown when no further insertion will come.
func (r *ObjectTableRegistry[E, H]) Flush() {
	for _, idx := range r.orphans.take() {
		r.Remove(idx)
	}
	n := len(r.cleanup)
	if n == 0 {
		return
	}
	for _, d := range r.cleanup {
		r.names.Unbind(d.handle, d.index)
	}
	clear(r.cleanup)
	r.cleanup = r.cleanup[:0]
	Publish(r.bus, CleanupDrained{Count: n})
}

// Clear removes every entry, as if each had been passed to Remove, and frees
// the arena. The handles are detached by the next InsertPartial or Flush.
func (r *ObjectTableRegistry[E, H]) Clear() {
	var removed []ObjectTableIndex
	r.objects.Each(func(i Index, entry *ObjectTableEntry[E, H]) bool {
		idx := ObjectTableIndex{i}
		r.cleanup = append(r.cleanup, detachment[H]{handle: entry.handle, index: idx})
		removed = append(removed, idx)
		return true
	})
	r.objects.Clear()
	clear(r.entities)
	for _, idx := range removed {
		Publish(r.bus, ObjectRemoved{Index: idx})
	}
}

// Len returns the number of live entries, partial ones included.
func (r *ObjectTableRegistry[E, H]) Len() int {
	return r.objects.Len()
}

// Pending returns how many removals and detachments are still deferred.
func (r *ObjectTableRegistry[E, H]) Pending() int {
	return len(r.cleanup) + r.orphans.len()
}

// ObjectTableComponent is the entity-side half of an entry: whoever owns the
// entity's components holds it and calls Drop when the entity goes away.
type ObjectTableComponent[E comparable, H comparable] struct {
	index    ObjectTableIndex
	registry Weak[ObjectTableRegistry[E, H]]
	orphans  *orphanQueue
	dropped  atomic.Bool
}

// Index returns the entry's index.
func (c *ObjectTableComponent[E, H]) Index() ObjectTableIndex {
	return c.index
}

// Drop removes the entry from its registry. If the registry cell is borrowed
// at the time, the removal is queued and done by the next InsertPartial or
// Flush instead of waiting. Drop never blocks and is safe to call more than
// once; if the registry is gone it does nothing.
func (c *ObjectTableComponent[E, H]) Drop() {
	if !c.dropped.CompareAndSwap(false, true) {
		return
	}
	cell, ok := c.registry.TryUpgrade()
	if !ok {
		return
	}
	defer cell.Release()
	reg, ok := cell.TryBorrowMut()
	if !ok {
		c.orphans.push(c.index)
		return
	}
	reg.Get().Remove(c.index)
	reg.Release()
}
