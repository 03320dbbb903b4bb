// Package assets provides kura.Loader implementations for asset files on
// disk and in S3 buckets, and a Watcher that hot-reloads cached keys when
// their files change.
package assets

import (
	"bytes"
	"io"
	"strings"

	"github.com/docker/go-units"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// DefaultMaxSize bounds a single asset when no limit is configured.
const DefaultMaxSize = "64MiB"

// ErrTooLarge is returned for assets over the configured size limit.
var ErrTooLarge = errors.New("assets: asset exceeds size limit")

// Decoder turns an asset's bytes into a value. The key is passed for error
// messages and format sniffing.
type Decoder[T any] func(key string, data []byte) (T, error)

// Raw returns the bytes unchanged.
func Raw(_ string, data []byte) ([]byte, error) {
	return data, nil
}

// Text returns the bytes as a string.
func Text(_ string, data []byte) (string, error) {
	return string(data), nil
}

// reader holds the options shared by every loader: the size limit and
// whether compressed files are expanded.
type reader struct {
	maxBytes   int64
	decompress bool
}

func newReader(maxSize string, decompress bool) (reader, error) {
	if maxSize == "" {
		maxSize = DefaultMaxSize
	}
	n, err := units.RAMInBytes(maxSize)
	if err != nil {
		return reader{}, errors.Wrapf(err, "assets: parse max size %q", maxSize)
	}
	if n <= 0 {
		return reader{}, errors.Errorf("assets: max size %q must be positive", maxSize)
	}
	return reader{maxBytes: n, decompress: decompress}, nil
}

// wrap expands .lz4 and .xz streams when decompression is on.
func (rd reader) wrap(name string, r io.Reader) (io.Reader, error) {
	if !rd.decompress {
		return r, nil
	}
	switch {
	case strings.HasSuffix(name, ".lz4"):
		return lz4.NewReader(r), nil
	case strings.HasSuffix(name, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "assets: open xz stream %s", name)
		}
		return xr, nil
	}
	return r, nil
}

// read returns the (decompressed) contents of r, failing once more than
// maxBytes come out of it.
func (rd reader) read(name string, r io.Reader) ([]byte, error) {
	r, err := rd.wrap(name, r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, rd.maxBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "assets: read %s", name)
	}
	if n > rd.maxBytes {
		return nil, errors.Wrapf(ErrTooLarge, "%s is over %s", name, units.BytesSize(float64(rd.maxBytes)))
	}
	return buf.Bytes(), nil
}
