package compress

import (
	"github.com/gostdlib/base/concurrency/sync"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Compressor with Zstandard. The encoder and decoder are
// created on first use and shared, EncodeAll and DecodeAll are safe for concurrent use.
type ZstdCompressor struct {
	// Level is the encoder level. If 0, zstd.SpeedDefault is used.
	Level zstd.EncoderLevel

	once    sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	initErr error
}

func (z *ZstdCompressor) init() error {
	z.once.Do(func() {
		level := z.Level
		if level == 0 {
			level = zstd.SpeedDefault
		}
		z.enc, z.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if z.initErr != nil {
			return
		}
		z.dec, z.initErr = zstd.NewReader(nil)
	})
	return z.initErr
}

// Type implements Compressor.Type().
func (z *ZstdCompressor) Type() Compression {
	return Zstd
}

// Compress implements Compressor.Compress().
func (z *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(data, nil), nil
}

// Decompress implements Compressor.Decompress().
func (z *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, err
	}
	return z.dec.DecodeAll(data, nil)
}
