package bridge

import "sync"

// Objects owns dynamic objects on behalf of the scripting runtime.
type Objects struct {
	mu     sync.RWMutex
	values map[Key]any
}

// NewObjects returns an empty store.
func NewObjects() *Objects {
	return &Objects{values: make(map[Key]any)}
}

// Create stores v under a fresh Key.
func (o *Objects) Create(v any) Key {
	k := NewKey()
	o.mu.Lock()
	o.values[k] = v
	o.mu.Unlock()
	return k
}

// Get returns the object stored under k.
func (o *Objects) Get(k Key) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.values[k]
	return v, ok
}

// Destroy removes the object stored under k.
func (o *Objects) Destroy(k Key) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.values[k]; !ok {
		return false
	}
	delete(o.values, k)
	return true
}

// Len returns the number of live objects.
func (o *Objects) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.values)
}
