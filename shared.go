package kura

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// exclusive is the borrow state of a cell held by one mutable borrow. A
// positive state counts shared borrows; zero means unborrowed.
const exclusive = -1

type borrowMode uint8

const (
	borrowOrPanic borrowMode = iota
	borrowOrFail
	borrowOrWait
)

// sharedCell is the storage every Shared, Weak and guard for one value points
// at. strong counts live Shared handles; the value is zeroed when it drops to
// zero. Weak references keep the cell reachable but not the value.
type sharedCell[T any] struct {
	mu     sync.Mutex
	cond   sync.Cond
	state  int
	strong atomic.Int64
	value  T
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func (c *sharedCell[T]) lockShared(mode borrowMode) bool {
	c.mu.Lock()
	if mode == borrowOrWait {
		for c.state == exclusive {
			c.cond.Wait()
		}
	} else if c.state == exclusive {
		c.mu.Unlock()
		if mode == borrowOrPanic {
			fatalf("Shared[%s] is already mutably borrowed", typeName[T]())
		}
		return false
	}
	c.state++
	c.mu.Unlock()
	return true
}

func (c *sharedCell[T]) lockExclusive(mode borrowMode) bool {
	c.mu.Lock()
	if mode == borrowOrWait {
		for c.state != 0 {
			c.cond.Wait()
		}
	} else if c.state != 0 {
		c.mu.Unlock()
		if mode == borrowOrPanic {
			fatalf("Shared[%s] is already borrowed", typeName[T]())
		}
		return false
	}
	c.state = exclusive
	c.mu.Unlock()
	return true
}

func (c *sharedCell[T]) unlockShared() {
	c.mu.Lock()
	c.state--
	if c.state == 0 {
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

func (c *sharedCell[T]) unlockExclusive() {
	c.mu.Lock()
	c.state = 0
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *sharedCell[T]) dropValue() {
	c.mu.Lock()
	if c.state != 0 {
		c.mu.Unlock()
		fatalf("last strong reference to Shared[%s] released while borrowed", typeName[T]())
	}
	var zero T
	c.value = zero
	c.mu.Unlock()
}

// Shared is a strong, reference-counted handle to a value with runtime-checked
// interior mutability. Any number of shared borrows or a single mutable borrow
// may be live at once, across goroutines.
//
// The plain Borrow and BorrowMut forms panic when that rule would be broken:
// a conflict means two callers believed they had the value to themselves,
// which is a reentrancy bug. The Try forms report the conflict instead and the
// Blocking forms wait it out; use the latter only when another goroutine is a
// legitimate alternate owner.
//
// Every handle returned by NewShared, Clone or Weak.Upgrade must be released
// exactly once with Release.
type Shared[T any] struct {
	cell     *sharedCell[T]
	released atomic.Bool
}

// NewShared wraps v in a cell with a strong count of 1.
func NewShared[T any](v T) *Shared[T] {
	c := &sharedCell[T]{value: v}
	c.cond.L = &c.mu
	c.strong.Store(1)
	return &Shared[T]{cell: c}
}

func (s *Shared[T]) live() *sharedCell[T] {
	if s.released.Load() {
		fatalf("use of released Shared[%s]", typeName[T]())
	}
	return s.cell
}

// Clone returns a new strong handle to the same value.
func (s *Shared[T]) Clone() *Shared[T] {
	c := s.live()
	c.strong.Add(1)
	return &Shared[T]{cell: c}
}

// Release drops this strong handle. When the last one is released the value
// is zeroed and weak references stop upgrading. Releasing the same handle
// twice, or releasing the last handle while a borrow taken through it is still
// live, panics.
func (s *Shared[T]) Release() {
	if !s.released.CompareAndSwap(false, true) {
		fatalf("Shared[%s] released twice", typeName[T]())
	}
	if s.cell.strong.Add(-1) == 0 {
		s.cell.dropValue()
	}
}

// StrongCount returns the number of live strong handles.
func (s *Shared[T]) StrongCount() int {
	return int(s.cell.strong.Load())
}

// PtrEq reports whether s and other refer to the same value.
func (s *Shared[T]) PtrEq(other *Shared[T]) bool {
	return s.cell == other.cell
}

// Downgrade returns a weak reference to the same value. It does not change
// the strong count.
func (s *Shared[T]) Downgrade() Weak[T] {
	return Weak[T]{cell: s.live()}
}

// Borrow takes a shared borrow. Panics if the value is mutably borrowed.
func (s *Shared[T]) Borrow() *Ref[T] {
	c := s.live()
	c.lockShared(borrowOrPanic)
	return &Ref[T]{cell: c}
}

// BorrowMut takes the mutable borrow. Panics if the value is borrowed at all.
func (s *Shared[T]) BorrowMut() *RefMut[T] {
	c := s.live()
	c.lockExclusive(borrowOrPanic)
	return &RefMut[T]{cell: c}
}

// TryBorrow is like Borrow but returns false instead of panicking.
func (s *Shared[T]) TryBorrow() (*Ref[T], bool) {
	c := s.live()
	if !c.lockShared(borrowOrFail) {
		return nil, false
	}
	return &Ref[T]{cell: c}, true
}

// TryBorrowMut is like BorrowMut but returns false instead of panicking.
func (s *Shared[T]) TryBorrowMut() (*RefMut[T], bool) {
	c := s.live()
	if !c.lockExclusive(borrowOrFail) {
		return nil, false
	}
	return &RefMut[T]{cell: c}, true
}

// BorrowBlocking is like Borrow but waits for a mutable borrow to end.
func (s *Shared[T]) BorrowBlocking() *Ref[T] {
	c := s.live()
	c.lockShared(borrowOrWait)
	return &Ref[T]{cell: c}
}

// BorrowMutBlocking is like BorrowMut but waits for every borrow to end.
func (s *Shared[T]) BorrowMutBlocking() *RefMut[T] {
	c := s.live()
	c.lockExclusive(borrowOrWait)
	return &RefMut[T]{cell: c}
}

// OwnedBorrow takes a shared borrow bundled with its own strong handle, so the
// guard can outlive s and be stored or returned freely. Panics like Borrow.
func (s *Shared[T]) OwnedBorrow() *OwnedRef[T] {
	r, _ := s.Clone().intoOwnedRef(borrowOrPanic)
	return r
}

// OwnedBorrowMut is the mutable counterpart of OwnedBorrow.
func (s *Shared[T]) OwnedBorrowMut() *OwnedRefMut[T] {
	r, _ := s.Clone().intoOwnedRefMut(borrowOrPanic)
	return r
}

// OwnedBorrowBlocking combines BorrowBlocking and OwnedBorrow.
func (s *Shared[T]) OwnedBorrowBlocking() *OwnedRef[T] {
	r, _ := s.Clone().intoOwnedRef(borrowOrWait)
	return r
}

// OwnedBorrowMutBlocking combines BorrowMutBlocking and OwnedBorrowMut.
func (s *Shared[T]) OwnedBorrowMutBlocking() *OwnedRefMut[T] {
	r, _ := s.Clone().intoOwnedRefMut(borrowOrWait)
	return r
}

// intoOwnedRef consumes s. On a failed try the handle is released again.
func (s *Shared[T]) intoOwnedRef(mode borrowMode) (*OwnedRef[T], bool) {
	if !s.cell.lockShared(mode) {
		s.Release()
		return nil, false
	}
	return &OwnedRef[T]{ref: Ref[T]{cell: s.cell}, owner: s}, true
}

func (s *Shared[T]) intoOwnedRefMut(mode borrowMode) (*OwnedRefMut[T], bool) {
	if !s.cell.lockExclusive(mode) {
		s.Release()
		return nil, false
	}
	return &OwnedRefMut[T]{ref: RefMut[T]{cell: s.cell}, owner: s}, true
}

// String formats the value if it can be borrowed without waiting.
func (s *Shared[T]) String() string {
	if s.released.Load() {
		return "Shared[" + typeName[T]() + "](released)"
	}
	if !s.cell.lockShared(borrowOrFail) {
		return "Shared[" + typeName[T]() + "](_)"
	}
	defer s.cell.unlockShared()
	return fmt.Sprint(s.cell.value)
}

// Weak is a non-owning reference to a Shared value. The zero Weak never
// upgrades.
type Weak[T any] struct {
	cell *sharedCell[T]
}

// NewWeak returns a weak reference that cannot be upgraded.
func NewWeak[T any]() Weak[T] {
	return Weak[T]{}
}

// TryUpgrade returns a new strong handle, or false if every strong handle has
// been released.
func (w Weak[T]) TryUpgrade() (*Shared[T], bool) {
	if w.cell == nil {
		return nil, false
	}
	for {
		n := w.cell.strong.Load()
		if n == 0 {
			return nil, false
		}
		if w.cell.strong.CompareAndSwap(n, n+1) {
			return &Shared[T]{cell: w.cell}, true
		}
	}
}

// Upgrade is like TryUpgrade but panics when no strong handle remains.
func (w Weak[T]) Upgrade() *Shared[T] {
	s, ok := w.TryUpgrade()
	if !ok {
		fatalf("upgrade of dangling Weak[%s]", typeName[T]())
	}
	return s
}

// Borrow upgrades and takes a shared borrow. Panics if the upgrade fails or
// the value is mutably borrowed.
func (w Weak[T]) Borrow() *OwnedRef[T] {
	r, _ := w.Upgrade().intoOwnedRef(borrowOrPanic)
	return r
}

// BorrowMut upgrades and takes the mutable borrow. Panics if the upgrade fails
// or the value is borrowed.
func (w Weak[T]) BorrowMut() *OwnedRefMut[T] {
	r, _ := w.Upgrade().intoOwnedRefMut(borrowOrPanic)
	return r
}

// TryBorrow returns false if the upgrade fails or the value is mutably
// borrowed.
func (w Weak[T]) TryBorrow() (*OwnedRef[T], bool) {
	s, ok := w.TryUpgrade()
	if !ok {
		return nil, false
	}
	return s.intoOwnedRef(borrowOrFail)
}

// TryBorrowMut returns false if the upgrade fails or the value is borrowed.
func (w Weak[T]) TryBorrowMut() (*OwnedRefMut[T], bool) {
	s, ok := w.TryUpgrade()
	if !ok {
		return nil, false
	}
	return s.intoOwnedRefMut(borrowOrFail)
}

// BorrowBlocking upgrades and waits for a shared borrow. Panics if the
// upgrade fails.
func (w Weak[T]) BorrowBlocking() *OwnedRef[T] {
	r, _ := w.Upgrade().intoOwnedRef(borrowOrWait)
	return r
}

// BorrowMutBlocking upgrades and waits for the mutable borrow. Panics if the
// upgrade fails.
func (w Weak[T]) BorrowMutBlocking() *OwnedRefMut[T] {
	r, _ := w.Upgrade().intoOwnedRefMut(borrowOrWait)
	return r
}

// OwnedBorrow is Borrow. Every borrow taken through a Weak is owned.
func (w Weak[T]) OwnedBorrow() *OwnedRef[T] { return w.Borrow() }

// OwnedBorrowMut is BorrowMut.
func (w Weak[T]) OwnedBorrowMut() *OwnedRefMut[T] { return w.BorrowMut() }

// OwnedBorrowBlocking is BorrowBlocking.
func (w Weak[T]) OwnedBorrowBlocking() *OwnedRef[T] { return w.BorrowBlocking() }

// OwnedBorrowMutBlocking is BorrowMutBlocking.
func (w Weak[T]) OwnedBorrowMutBlocking() *OwnedRefMut[T] { return w.BorrowMutBlocking() }

// Ref is a live shared borrow. The value must not be written through Get.
type Ref[T any] struct {
	cell     *sharedCell[T]
	released bool
}

// Get returns the borrowed value.
func (r *Ref[T]) Get() *T {
	if r.released {
		fatalf("use of released Ref[%s]", typeName[T]())
	}
	return &r.cell.value
}

// Release ends the borrow.
func (r *Ref[T]) Release() {
	if r.released {
		fatalf("Ref[%s] released twice", typeName[T]())
	}
	r.released = true
	r.cell.unlockShared()
}

// RefMut is the live mutable borrow.
type RefMut[T any] struct {
	cell     *sharedCell[T]
	released bool
}

// Get returns the borrowed value.
func (r *RefMut[T]) Get() *T {
	if r.released {
		fatalf("use of released RefMut[%s]", typeName[T]())
	}
	return &r.cell.value
}

// Set replaces the borrowed value.
func (r *RefMut[T]) Set(v T) {
	*r.Get() = v
}

// Release ends the borrow.
func (r *RefMut[T]) Release() {
	if r.released {
		fatalf("RefMut[%s] released twice", typeName[T]())
	}
	r.released = true
	r.cell.unlockExclusive()
}

// OwnedRef is a shared borrow that owns a strong handle to its value.
type OwnedRef[T any] struct {
	ref   Ref[T]
	owner *Shared[T]
}

// Get returns the borrowed value.
func (r *OwnedRef[T]) Get() *T {
	return r.ref.Get()
}

// Release ends the borrow, then drops the strong handle.
func (r *OwnedRef[T]) Release() {
	r.ref.Release()
	r.owner.Release()
}

// OwnedRefMut is a mutable borrow that owns a strong handle to its value.
type OwnedRefMut[T any] struct {
	ref   RefMut[T]
	owner *Shared[T]
}

// Get returns the borrowed value.
func (r *OwnedRefMut[T]) Get() *T {
	return r.ref.Get()
}

// Set replaces the borrowed value.
func (r *OwnedRefMut[T]) Set(v T) {
	r.ref.Set(v)
}

// Release ends the borrow, then drops the strong handle.
func (r *OwnedRefMut[T]) Release() {
	r.ref.Release()
	r.owner.Release()
}
