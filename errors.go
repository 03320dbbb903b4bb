package kura

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotCached is returned by SwappableCache.Reload for a key that was never
// loaded.
var ErrNotCached = errors.New("kura: key is not cached")

// LoadError wraps a loader failure together with the key that failed.
type LoadError struct {
	Key any
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("kura: load %v: %v", e.Key, e.Err)
}

// Unwrap returns the loader's error.
func (e *LoadError) Unwrap() error { return e.Err }

// Cause returns the loader's error for errors.Cause.
func (e *LoadError) Cause() error { return e.Err }

// ReloadErrors collects the per-key failures of a ReloadAll call. Keys that
// reloaded successfully are not listed.
type ReloadErrors struct {
	Failed []*LoadError
}

func (e *ReloadErrors) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kura: %d key(s) failed to reload", len(e.Failed))
	for _, f := range e.Failed {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *ReloadErrors) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// fatalf reports a programming error. These are defects, not runtime
// conditions, so they are never returned as values.
func fatalf(format string, args ...any) {
	panic("kura: " + fmt.Sprintf(format, args...))
}
