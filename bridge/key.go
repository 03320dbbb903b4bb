// Package bridge is the scripting side of the object table: the store that
// owns dynamic objects, the name table that maps them back to registry
// entries, and conversions between entities and objects.
package bridge

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Key is the opaque token the scripting runtime hands out for an object it
// owns. The registry stores it and never looks inside.
type Key uuid.UUID

// NewKey returns a random Key.
func NewKey() Key {
	return Key(uuid.New())
}

// ParseKey parses the textual form produced by Key.String.
func ParseKey(s string) (Key, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Key{}, errors.Wrapf(err, "bridge: parse key %q", s)
	}
	return Key(u), nil
}

func (k Key) String() string {
	return uuid.UUID(k).String()
}
