package kura

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a cache key. A SwappableCache may call Load
// concurrently for different keys, but never for the same key at once during
// a first load.
type Loader[K comparable, T any] interface {
	Load(key K) (T, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc[K comparable, T any] func(key K) (T, error)

// Load calls f(key).
func (f LoaderFunc[K, T]) Load(key K) (T, error) {
	return f(key)
}

// Handle is a slot holding an atomically replaceable snapshot of a T. Copies
// of a Handle share the slot, so replacing the snapshot is seen through every
// copy. Snapshots are immutable once published; a new value is always a new
// snapshot.
type Handle[T any] struct {
	slot *atomic.Pointer[T]
}

// NewHandle returns a Handle that belongs to no cache.
func NewHandle[T any](v T) Handle[T] {
	return HandleFromPointer(&v)
}

// HandleFromPointer returns a Handle whose first snapshot is p.
func HandleFromPointer[T any](p *T) Handle[T] {
	if p == nil {
		fatalf("nil snapshot for Handle[%s]", typeName[T]())
	}
	h := Handle[T]{slot: new(atomic.Pointer[T])}
	h.slot.Store(p)
	return h
}

// Load returns the current snapshot.
func (h Handle[T]) Load() *T {
	return h.slot.Load()
}

// Cached returns a CacheRef bound to the same slot.
func (h Handle[T]) Cached() CacheRef[T] {
	return CacheRef[T]{slot: h.slot}
}

// PtrEq reports whether h and other currently hold the same snapshot.
func (h Handle[T]) PtrEq(other Handle[T]) bool {
	return h.slot.Load() == other.slot.Load()
}

// SameSlot reports whether h and other are the same slot. Unlike PtrEq this
// stays true across reloads.
func (h Handle[T]) SameSlot(other Handle[T]) bool {
	return h.slot == other.slot
}

func (h Handle[T]) store(v T) {
	h.slot.Store(&v)
}

// CacheRef reads a Handle's slot and keeps the last snapshot it observed
// through GetCached. Copy it freely; each copy has its own cached snapshot.
type CacheRef[T any] struct {
	slot   *atomic.Pointer[T]
	cached *T
}

// NewUncachedRef returns a CacheRef that belongs to no cache.
func NewUncachedRef[T any](v T) CacheRef[T] {
	return NewHandle(v).Cached()
}

// Handle returns the Handle this ref reads from.
func (r CacheRef[T]) Handle() Handle[T] {
	return Handle[T]{slot: r.slot}
}

// Get returns the current snapshot. It is always fresh.
func (r CacheRef[T]) Get() *T {
	return r.slot.Load()
}

// GetCached returns the snapshot seen by the last GetCached or Refresh, and
// only reads the slot the first time. It can lag behind Get by any number of
// reloads; do not use it where freshness matters.
func (r *CacheRef[T]) GetCached() *T {
	if r.cached == nil {
		r.cached = r.slot.Load()
	}
	return r.cached
}

// Refresh replaces the cached snapshot with the current one and returns it.
func (r *CacheRef[T]) Refresh() *T {
	r.cached = r.slot.Load()
	return r.cached
}

// Stale reports whether the slot has been replaced since the cached snapshot
// was taken.
func (r *CacheRef[T]) Stale() bool {
	return r.cached != r.slot.Load()
}

// PtrEq reports whether r and other currently read the same snapshot.
func (r CacheRef[T]) PtrEq(other CacheRef[T]) bool {
	return r.slot.Load() == other.slot.Load()
}

// PtrEqCached compares the cached snapshots of r and other.
func (r *CacheRef[T]) PtrEqCached(other *CacheRef[T]) bool {
	return r.GetCached() == other.GetCached()
}

// SwappableCache maps keys to Handles built by a Loader. A key is loaded once;
// afterwards Reload swaps a new snapshot into the existing Handle, so every
// holder of that Handle or a CacheRef on it sees the new value without looking
// the key up again. Entries live as long as the cache.
//
// A SwappableCache is safe for concurrent use. Lookups read an immutable map
// published through an atomic pointer and never lock. For one key at most one
// Load runs at a time: first loads are coalesced and reloads of a key take
// that key's lock across Load and the swap.
type SwappableCache[K comparable, T any] struct {
	loader  Loader[K, T]
	entries atomic.Pointer[map[K]*cacheEntry[T]]
	mu      sync.Mutex
	loads   singleflight.Group
	bus     *EventBus
}

type cacheEntry[T any] struct {
	handle Handle[T]
	reload sync.Mutex
}

// flight is the result of a coalesced first load. Distinct keys can share a
// singleflight key, so the caller checks that the flight was for its own key.
type flight[K comparable, T any] struct {
	key    K
	handle Handle[T]
	err    error
}

// NewSwappableCache returns an empty cache that loads through loader.
func NewSwappableCache[K comparable, T any](loader Loader[K, T], opts ...CacheOption) *SwappableCache[K, T] {
	var cfg cacheConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &SwappableCache[K, T]{loader: loader, bus: cfg.bus}
	empty := make(map[K]*cacheEntry[T])
	c.entries.Store(&empty)
	return c
}

func (c *SwappableCache[K, T]) entry(key K) (*cacheEntry[T], bool) {
	e, ok := (*c.entries.Load())[key]
	return e, ok
}

// Peek returns the Handle for key without loading it.
func (c *SwappableCache[K, T]) Peek(key K) (Handle[T], bool) {
	e, ok := c.entry(key)
	if !ok {
		return Handle[T]{}, false
	}
	return e.handle, true
}

// Contains reports whether key has been loaded.
func (c *SwappableCache[K, T]) Contains(key K) bool {
	_, ok := c.entry(key)
	return ok
}

// Len returns the number of cached keys.
func (c *SwappableCache[K, T]) Len() int {
	return len(*c.entries.Load())
}

// Keys returns the cached keys in no particular order.
func (c *SwappableCache[K, T]) Keys() []K {
	m := *c.entries.Load()
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// GetOrLoad returns the Handle for key, loading it on first use. Concurrent
// first calls for one key share a single Load. A failed load caches nothing
// and returns a *LoadError.
func (c *SwappableCache[K, T]) GetOrLoad(key K) (Handle[T], error) {
	for {
		if h, ok := c.Peek(key); ok {
			return h, nil
		}
		v, _, _ := c.loads.Do(fmt.Sprintf("%#v", key), func() (any, error) {
			if h, ok := c.Peek(key); ok {
				return flight[K, T]{key: key, handle: h}, nil
			}
			loaded, err := c.loader.Load(key)
			if err != nil {
				return flight[K, T]{key: key, err: &LoadError{Key: key, Err: err}}, nil
			}
			return flight[K, T]{key: key, handle: c.insert(key, NewHandle(loaded))}, nil
		})
		f := v.(flight[K, T])
		if f.key != key {
			// Joined the flight of another key that prints the same.
			continue
		}
		if f.err != nil {
			return Handle[T]{}, f.err
		}
		return f.handle, nil
	}
}

// insert publishes a copy of the map with key added. If key raced in first,
// the existing Handle wins.
func (c *SwappableCache[K, T]) insert(key K, h Handle[T]) Handle[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := *c.entries.Load()
	if existing, ok := old[key]; ok {
		return existing.handle
	}
	next := make(map[K]*cacheEntry[T], len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = &cacheEntry[T]{handle: h}
	c.entries.Store(&next)
	return h
}

// Reload loads key again and swaps the result into its existing Handle. On
// failure the previous snapshot stays in place and a *LoadError is returned.
// Reloading a key that was never loaded returns ErrNotCached. Concurrent
// reloads of one key run one after the other, so the last to finish
// publishes the newest load.
func (c *SwappableCache[K, T]) Reload(key K) error {
	e, ok := c.entry(key)
	if !ok {
		return errors.Wrapf(ErrNotCached, "reload %v", key)
	}
	if err := c.reload(key, e); err != nil {
		return err
	}
	return nil
}

func (c *SwappableCache[K, T]) reload(key K, e *cacheEntry[T]) *LoadError {
	e.reload.Lock()
	defer e.reload.Unlock()
	v, err := c.loader.Load(key)
	if err != nil {
		lerr := &LoadError{Key: key, Err: err}
		Publish(c.bus, CacheReloadFailed[K]{Key: key, Err: lerr})
		return lerr
	}
	e.handle.store(v)
	Publish(c.bus, CacheReloaded[K]{Key: key})
	return nil
}

// ReloadAll reloads every cached key. It is not atomic across keys: a failure
// does not stop the remaining reloads, and keys that reloaded stay reloaded.
// Every failure is reported in the returned *ReloadErrors.
func (c *SwappableCache[K, T]) ReloadAll() error {
	var failed []*LoadError
	for key, e := range *c.entries.Load() {
		if err := c.reload(key, e); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return &ReloadErrors{Failed: failed}
	}
	return nil
}
