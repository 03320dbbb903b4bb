// Package kura provides the ownership and lifecycle layer that engine
// subsystems share: Shared cells with runtime-checked borrowing, a
// SwappableCache of hot-reloadable resources, and an ObjectTableRegistry that
// ties entities to externally owned objects.
package kura

import "strconv"

// Entity identifies an object in a world. It combines a recyclable ID with a
// version so a stale Entity is never confused with the one that reused its ID.
type Entity struct {
	ID      uint32 // The recyclable identifier.
	Version uint32 // Generation of ID; zero is never issued.
}

// IsZero reports whether e is the zero Entity.
func (e Entity) IsZero() bool {
	return e.Version == 0
}

func (e Entity) String() string {
	return "Entity(" + strconv.FormatUint(uint64(e.ID), 10) + "v" + strconv.FormatUint(uint64(e.Version), 10) + ")"
}

// Entities hands out Entity values. It is the identity source for code that
// has no world of its own, such as tools and tests.
// Entities is not safe for concurrent use.
type Entities struct {
	ids *Arena[struct{}]
}

// NewEntities returns an allocator with room for initialCapacity entities.
func NewEntities(initialCapacity int) *Entities {
	return &Entities{ids: NewArena[struct{}](initialCapacity)}
}

// Spawn returns a new Entity.
func (es *Entities) Spawn() Entity {
	i := es.ids.Insert(struct{}{})
	return Entity{ID: i.Slot, Version: i.Generation}
}

// Despawn retires e. Returns false if e was not alive.
func (es *Entities) Despawn(e Entity) bool {
	_, ok := es.ids.Remove(Index{Slot: e.ID, Generation: e.Version})
	return ok
}

// IsValid reports whether e is alive.
func (es *Entities) IsValid(e Entity) bool {
	return es.ids.Contains(Index{Slot: e.ID, Generation: e.Version})
}

// Len returns the number of live entities.
func (es *Entities) Len() int {
	return es.ids.Len()
}
