package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipCompressor implements Compressor with the klauspost gzip encoder, which is
// wire compatible with compress/gzip.
type GzipCompressor struct {
	// Level is the compression level. If 0, gzip.DefaultCompression is used.
	Level int
}

// Type implements Compressor.Type().
func (g *GzipCompressor) Type() Compression {
	return Gzip
}

// Compress implements Compressor.Compress().
func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress implements Compressor.Decompress().
func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
