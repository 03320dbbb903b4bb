package kura

import (
	"math"
	"strconv"
)

// Index identifies a slot in an Arena. It pairs the slot position with the
// generation the slot had when the value was inserted, so an Index taken
// before a Remove never resolves to a value inserted later into the same slot.
// The zero Index is never valid.
type Index struct {
	// Slot is the position in the arena, reused after removal.
	Slot uint32
	// Generation is bumped every time the slot is freed.
	Generation uint32
}

// Bits packs the index into a single integer, generation in the high half.
func (i Index) Bits() uint64 {
	return uint64(i.Generation)<<32 | uint64(i.Slot)
}

// IndexFromBits is the inverse of Index.Bits.
func IndexFromBits(bits uint64) Index {
	return Index{Slot: uint32(bits), Generation: uint32(bits >> 32)}
}

// IsZero reports whether i is the zero Index.
func (i Index) IsZero() bool {
	return i.Generation == 0
}

func (i Index) String() string {
	return strconv.FormatUint(uint64(i.Slot), 10) + "v" + strconv.FormatUint(uint64(i.Generation), 10)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena is a slot store with generational indices. Freed slots are kept on a
// free list and handed out again by Insert, with a new generation.
// An Arena is not safe for concurrent use.
type Arena[T any] struct {
	slots   []arenaSlot[T]
	freeIDs []uint32
	len     int
}

// NewArena returns an arena with room for capacity values before growing.
func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		slots:   make([]arenaSlot[T], 0, capacity),
		freeIDs: make([]uint32, 0, capacity),
	}
}

// Insert stores v and returns its index. Reuses free slots if available to
// avoid growing the slice unnecessarily.
func (a *Arena[T]) Insert(v T) Index {
	var slot uint32
	if n := len(a.freeIDs); n > 0 {
		slot = a.freeIDs[n-1]
		a.freeIDs = a.freeIDs[:n-1]
	} else {
		if uint64(len(a.slots)) >= math.MaxUint32 {
			fatalf("arena is full")
		}
		a.slots = append(a.slots, arenaSlot[T]{generation: 1})
		slot = uint32(len(a.slots) - 1)
	}
	s := &a.slots[slot]
	s.value = v
	s.occupied = true
	a.len++
	return Index{Slot: slot, Generation: s.generation}
}

// Contains reports whether i refers to a live value.
func (a *Arena[T]) Contains(i Index) bool {
	if i.IsZero() || int(i.Slot) >= len(a.slots) {
		return false
	}
	s := &a.slots[i.Slot]
	return s.occupied && s.generation == i.Generation
}

// Get returns a pointer to the value at i, or false if i is stale or was
// never issued. The pointer is only valid until the next Insert.
func (a *Arena[T]) Get(i Index) (*T, bool) {
	if !a.Contains(i) {
		return nil, false
	}
	return &a.slots[i.Slot].value, true
}

// Remove takes the value at i out of the arena and frees its slot for reuse.
func (a *Arena[T]) Remove(i Index) (T, bool) {
	var zero T
	if !a.Contains(i) {
		return zero, false
	}
	s := &a.slots[i.Slot]
	v := s.value
	s.value = zero
	s.occupied = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	a.freeIDs = append(a.freeIDs, i.Slot)
	a.len--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.len
}

// Each calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Index, *T) bool) {
	for slot := range a.slots {
		s := &a.slots[slot]
		if !s.occupied {
			continue
		}
		if !fn(Index{Slot: uint32(slot), Generation: s.generation}, &s.value) {
			return
		}
	}
}

// Clear removes every value. Outstanding indices become stale.
func (a *Arena[T]) Clear() {
	var zero T
	a.freeIDs = a.freeIDs[:0]
	for slot := len(a.slots) - 1; slot >= 0; slot-- {
		s := &a.slots[slot]
		if s.occupied {
			s.value = zero
			s.occupied = false
			s.generation++
			if s.generation == 0 {
				s.generation = 1
			}
		}
		a.freeIDs = append(a.freeIDs, uint32(slot))
	}
	a.len = 0
}
