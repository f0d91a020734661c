// Package compress provides payload compression for mbus frames. Gzip, Snappy and
// Zstd are registered by default and custom compressors can be added with Register.
package compress

import (
	"fmt"
	"strings"

	"github.com/gostdlib/base/concurrency/sync"
)

// Compression identifies a compression algorithm on the wire.
type Compression uint8

const (
	// None sends payloads as is.
	None Compression = 0
	// Gzip uses compress/gzip.
	Gzip Compression = 1
	// Snappy uses github.com/golang/snappy.
	Snappy Compression = 2
	// Zstd uses github.com/klauspost/compress/zstd.
	Zstd Compression = 3
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("Compression(%d)", uint8(c))
}

// Parse converts the name returned by String back into a Compression.
func Parse(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("unknown compression %q, want one of none|gzip|snappy|zstd", s)
}

// Compressor defines the interface for compression algorithms.
type Compressor interface {
	// Compress compresses data. Returns compressed data or error.
	Compress(data []byte) ([]byte, error)

	// Decompress decompresses data. Returns original data or error.
	Decompress(data []byte) ([]byte, error)

	// Type returns the compression type for the wire protocol.
	Type() Compression
}

var (
	registry   = map[Compression]Compressor{}
	registryMu sync.RWMutex
)

// Register adds a compressor to the registry, replacing any compressor of the
// same type. Thread-safe.
func Register(c Compressor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Type()] = c
}

// Get returns the compressor for the given type, or nil if not found.
func Get(t Compression) Compressor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[t]
}

// Compress compresses data using the specified algorithm.
// Returns data unchanged if t is None or data is empty.
func Compress(t Compression, data []byte) ([]byte, error) {
	if t == None || len(data) == 0 {
		return data, nil
	}
	c := Get(t)
	if c == nil {
		return nil, fmt.Errorf("compressor not registered for %s", t)
	}
	return c.Compress(data)
}

// Decompress decompresses data using the specified algorithm.
// Returns data unchanged if t is None or data is empty.
func Decompress(t Compression, data []byte) ([]byte, error) {
	if t == None || len(data) == 0 {
		return data, nil
	}
	c := Get(t)
	if c == nil {
		return nil, fmt.Errorf("compressor not registered for %s", t)
	}
	return c.Decompress(data)
}

func init() {
	Register(&GzipCompressor{})
	Register(&SnappyCompressor{})
	Register(&ZstdCompressor{})
}
