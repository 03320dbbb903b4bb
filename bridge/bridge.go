package bridge

import (
	"github.com/pkg/errors"

	"github.com/edwinsyarief/kura"
)

var (
	// ErrUnknownObject is returned for a key with no live object or no
	// registry entry.
	ErrUnknownObject = errors.New("bridge: unknown object")
	// ErrUnlinked is returned when a key's entry has no entity yet.
	ErrUnlinked = errors.New("bridge: object is not linked to an entity")
	// ErrAttached is returned by Attach for a key that already has an entry.
	ErrAttached = errors.New("bridge: object already has an entry")
)

// Registry is the object table used by a Bridge.
type Registry = kura.ObjectTableRegistry[kura.Entity, Key]

// Component is the entity-side half of an object table entry.
type Component = kura.ObjectTableComponent[kura.Entity, Key]

// Bridge converts between entities and script-owned objects. The registry,
// name table and object store are created together and handed to callers
// explicitly; nothing is reachable through globals.
type Bridge struct {
	objects  *Objects
	names    *Names
	registry *kura.Shared[Registry]
}

// New returns a Bridge with an empty object store and registry.
func New(opts ...kura.RegistryOption) *Bridge {
	names := NewNames()
	return &Bridge{
		objects:  NewObjects(),
		names:    names,
		registry: kura.NewObjectTableRegistry[kura.Entity, Key](names, opts...),
	}
}

// Objects returns the object store.
func (b *Bridge) Objects() *Objects { return b.objects }

// Names returns the name table.
func (b *Bridge) Names() *Names { return b.names }

// Registry returns the registry cell.
func (b *Bridge) Registry() *kura.Shared[Registry] { return b.registry }

// Attach creates a partial entry for the object under k. The object usually
// exists before the entity that will own it; complete the entry with Link.
func (b *Bridge) Attach(k Key) (*Component, error) {
	c, created, err := b.component(k)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errors.Wrapf(ErrAttached, "attach %s", k)
	}
	return c, nil
}

// ComponentFor returns a component for the entry under k, creating a partial
// entry if there is none.
func (b *Bridge) ComponentFor(k Key) (*Component, error) {
	c, _, err := b.component(k)
	return c, err
}

func (b *Bridge) component(k Key) (*Component, bool, error) {
	if _, ok := b.objects.Get(k); !ok {
		return nil, false, errors.Wrapf(ErrUnknownObject, "component for %s", k)
	}
	reg := b.registry.BorrowMut()
	defer reg.Release()
	// A binding whose entry is gone is only waiting to be detached.
	if idx, ok := b.names.Lookup(k); ok {
		if c, live := reg.Get().ComponentAt(idx); live {
			return c, false, nil
		}
	}
	return reg.Get().InsertPartial(k), true, nil
}

// Link assigns entity to a partial entry.
func (b *Bridge) Link(entity kura.Entity, c *Component) {
	reg := b.registry.BorrowMut()
	defer reg.Release()
	reg.Get().Link(entity, c.Index())
}

// Spawn is Attach followed by Link.
func (b *Bridge) Spawn(k Key, entity kura.Entity) (*Component, error) {
	c, err := b.Attach(k)
	if err != nil {
		return nil, err
	}
	b.Link(entity, c)
	return c, nil
}

// EntityOf resolves an object key to the entity it is linked to.
func (b *Bridge) EntityOf(k Key) (kura.Entity, error) {
	idx, ok := b.names.Lookup(k)
	if !ok {
		return kura.Entity{}, errors.Wrapf(ErrUnknownObject, "entity of %s", k)
	}
	reg := b.registry.Borrow()
	defer reg.Release()
	entry, ok := reg.Get().ByIndex(idx)
	if !ok {
		// Removed, detachment still pending.
		return kura.Entity{}, errors.Wrapf(ErrUnknownObject, "entity of %s", k)
	}
	e, ok := entry.Entity()
	if !ok {
		return kura.Entity{}, errors.Wrapf(ErrUnlinked, "entity of %s", k)
	}
	return e, nil
}

// KeyOf resolves an entity to its object key.
func (b *Bridge) KeyOf(entity kura.Entity) (Key, bool) {
	reg := b.registry.Borrow()
	defer reg.Release()
	entry, ok := reg.Get().ByEntity(entity)
	if !ok {
		return Key{}, false
	}
	return entry.Handle(), true
}

// ObjectOf returns the object linked to entity.
func (b *Bridge) ObjectOf(entity kura.Entity) (any, bool) {
	k, ok := b.KeyOf(entity)
	if !ok {
		return nil, false
	}
	return b.objects.Get(k)
}

// Close removes every entry, detaches every key and releases the Bridge's
// registry handle. Components dropped afterwards do nothing.
func (b *Bridge) Close() {
	reg := b.registry.BorrowMut()
	reg.Get().Clear()
	reg.Get().Flush()
	reg.Release()
	b.registry.Release()
}
