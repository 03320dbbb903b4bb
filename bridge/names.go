package bridge

import (
	"sync"

	"github.com/edwinsyarief/kura"
)

// Names maps object keys to their registry index, stored packed the way the
// runtime keeps it in an object's user value. It is guarded by a plain mutex
// that the runtime also holds while it runs teardown code, which is why the
// registry never unbinds from inside Remove.
type Names struct {
	mu      sync.Mutex
	indices map[Key]uint64
}

// NewNames returns an empty name table.
func NewNames() *Names {
	return &Names{indices: make(map[Key]uint64)}
}

// Bind implements kura.NameTable.
func (n *Names) Bind(k Key, idx kura.ObjectTableIndex) {
	n.mu.Lock()
	n.indices[k] = idx.Bits()
	n.mu.Unlock()
}

// Unbind implements kura.NameTable. A binding that already points at a newer
// entry is kept.
func (n *Names) Unbind(k Key, idx kura.ObjectTableIndex) {
	n.mu.Lock()
	if cur, ok := n.indices[k]; ok && cur == idx.Bits() {
		delete(n.indices, k)
	}
	n.mu.Unlock()
}

// Lookup returns the index bound to k.
func (n *Names) Lookup(k Key) (kura.ObjectTableIndex, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	bits, ok := n.indices[k]
	if !ok {
		return kura.ObjectTableIndex{}, false
	}
	return kura.ObjectTableIndex{Index: kura.IndexFromBits(bits)}, true
}

// Len returns the number of bound keys.
func (n *Names) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.indices)
}

// Locked runs fn with the table locked, the way the runtime runs finalizers.
// fn must not call back into n.
func (n *Names) Locked(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn()
}
