package assets

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Config configures a FileLoader.
type Config struct {
	// Root is the directory keys are resolved against.
	Root string
	// MaxSize limits one asset after decompression, e.g. "16MiB".
	// Empty means DefaultMaxSize.
	MaxSize string
	// Decompress expands keys ending in .lz4 or .xz before decoding.
	Decompress bool
}

// FileLoader loads assets from a directory tree. Keys are slash-separated
// paths relative to the root and may not leave it.
type FileLoader[T any] struct {
	root   string
	rd     reader
	decode Decoder[T]
}

// NewFileLoader returns a loader for cfg.Root that decodes with decode.
func NewFileLoader[T any](cfg Config, decode Decoder[T]) (*FileLoader[T], error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.Wrapf(err, "assets: resolve root %q", cfg.Root)
	}
	rd, err := newReader(cfg.MaxSize, cfg.Decompress)
	if err != nil {
		return nil, err
	}
	return &FileLoader[T]{root: root, rd: rd, decode: decode}, nil
}

// Root returns the absolute root directory.
func (l *FileLoader[T]) Root() string {
	return l.root
}

// Path returns the file a key resolves to.
func (l *FileLoader[T]) Path(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", errors.Errorf("assets: key %q escapes the asset root", key)
	}
	return filepath.Join(l.root, rel), nil
}

// Load implements kura.Loader.
func (l *FileLoader[T]) Load(key string) (T, error) {
	var zero T
	p, err := l.Path(key)
	if err != nil {
		return zero, err
	}
	f, err := os.Open(p)
	if err != nil {
		return zero, errors.Wrapf(err, "assets: open %s", key)
	}
	defer f.Close()
	data, err := l.rd.read(key, f)
	if err != nil {
		return zero, err
	}
	v, err := l.decode(key, data)
	if err != nil {
		return zero, errors.Wrapf(err, "assets: decode %s", key)
	}
	return v, nil
}
