package compress

import (
	"github.com/golang/snappy"
)

// SnappyCompressor implements Compressor with Snappy, which favors speed over ratio.
type SnappyCompressor struct{}

// Type implements Compressor.Type().
func (s *SnappyCompressor) Type() Compression {
	return Snappy
}

// Compress implements Compressor.Compress().
func (s *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

// Decompress implements Compressor.Decompress().
func (s *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
