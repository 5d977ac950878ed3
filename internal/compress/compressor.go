// Package compress implements the adaptive byte compressor used by the
// capacity tier. Compression effort is chosen by the declared data kind:
// text-like payloads get a higher effort level than already-dense media.
package compress

import (
	"bytes"
	"io"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/tierq/tierq/pkg/errors"
	"github.com/tierq/tierq/pkg/types"
)

// Compressor is a stateless adaptive compressor. The zero value is not
// usable; construct with New.
type Compressor struct {
	logger *log.Logger
}

// New creates a Compressor. A nil logger falls back to the package default.
func New(logger *log.Logger) *Compressor {
	if logger == nil {
		logger = log.Default()
	}
	return &Compressor{logger: logger.With("component", "compress")}
}

// levelFor maps a data kind to a gzip effort level. Text and structured
// payloads compress well and justify more effort; media kinds are usually
// already encoded and get a fast level.
func levelFor(kind types.DataKind) int {
	switch kind {
	case types.KindText, types.KindStructured:
		return 6
	default:
		return 3
	}
}

// Compress compresses data with an effort level chosen by kind. It returns
// the compressed payload and true only when compression succeeded and
// actually reduced the footprint; otherwise the caller should store the
// original bytes. Compression failures are logged, never fatal.
func (c *Compressor) Compress(data []byte, kind types.DataKind) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, levelFor(kind))
	if err != nil {
		c.logger.Warn("compressor init failed, storing uncompressed", "kind", kind, "err", err)
		return data, false
	}

	if _, err := w.Write(data); err != nil {
		c.logger.Warn("compression failed, storing uncompressed", "kind", kind, "err", err)
		return data, false
	}
	if err := w.Close(); err != nil {
		c.logger.Warn("compression flush failed, storing uncompressed", "kind", kind, "err", err)
		return data, false
	}

	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

// Decompress reverses Compress. Errors surface to the cache, which treats
// them as a miss.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCompression, "invalid compressed payload")
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCompression, "decompression failed")
	}
	return out, nil
}
