// Package frame implements the wire format spoken between rpc/client and rpc/server.
//
// Every message on a connection is a Frame:
//
//	u32 length | u8 kind | u32 request id | u8 compression | body
//
// length counts every byte after itself. The body of a KindRequest frame is a
// marshaled Request, the body of a KindReply frame a marshaled Reply. Bodies may be
// compressed with any algorithm registered in rpc/compress.
package frame

import (
	"fmt"
	"io"

	"github.com/gostdlib/base/values/sizes"

	"github.com/bearlytools/mbus/internal/binary"
	"github.com/bearlytools/mbus/rpc/compress"
)

const (
	// MaxSize is the largest frame, header included, that Read accepts and Write emits.
	MaxSize = int(4 * sizes.MiB)
	// DefaultCompressThreshold is the body size from which Writer compresses bodies.
	DefaultCompressThreshold = int(1 * sizes.KiB)

	// headerSize is everything after the length prefix that is not body.
	headerSize = 1 + 4 + 1
	lenSize    = 4
)

// ErrTooLarge is returned when a frame exceeds MaxSize.
var ErrTooLarge = fmt.Errorf("frame exceeds %d bytes", MaxSize)

// Kind is the type of a frame.
type Kind uint8

const (
	// KindUnknown is never sent.
	KindUnknown Kind = 0
	// KindRequest carries a Request.
	KindRequest Kind = 1
	// KindReply carries a Reply to the Request with the same ID.
	KindReply Kind = 2
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindReply:
		return "Reply"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Frame is one message on a connection. Body is always uncompressed in memory.
type Frame struct {
	Kind Kind
	ID   uint32
	Body []byte
}

// Writer writes frames to an io.Writer. It is not safe for concurrent use.
type Writer struct {
	w         io.Writer
	comp      compress.Compression
	threshold int
	buf       []byte
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompression compresses bodies of at least threshold bytes with c.
// A threshold <= 0 uses DefaultCompressThreshold.
func WithCompression(c compress.Compression, threshold int) WriterOption {
	return func(w *Writer) {
		w.comp = c
		if threshold > 0 {
			w.threshold = threshold
		}
	}
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	fw := &Writer{w: w, threshold: DefaultCompressThreshold}
	for _, o := range opts {
		o(fw)
	}
	return fw
}

// Write encodes f and writes it with a single call to the underlying writer.
func (w *Writer) Write(f Frame) error {
	body := f.Body
	comp := compress.None
	if w.comp != compress.None && len(body) >= w.threshold {
		c, err := compress.Compress(w.comp, body)
		if err != nil {
			return fmt.Errorf("compressing %s frame %d: %w", f.Kind, f.ID, err)
		}
		// Incompressible bodies go out as is.
		if len(c) < len(body) {
			body = c
			comp = w.comp
		}
	}

	total := lenSize + headerSize + len(body)
	if total > MaxSize {
		return ErrTooLarge
	}

	b := w.buf[:0]
	b = binary.Append(b, uint32(headerSize+len(body)))
	b = binary.Append(b, uint8(f.Kind))
	b = binary.Append(b, f.ID)
	b = binary.Append(b, uint8(comp))
	b = append(b, body...)
	w.buf = b

	_, err := w.w.Write(b)
	return err
}

// Read reads the next frame from r and decompresses its body.
func Read(r io.Reader) (Frame, error) {
	n, err := binary.Read[uint32](r)
	if err != nil {
		return Frame{}, err
	}
	if n < headerSize {
		return Frame{}, fmt.Errorf("frame length %d is shorter than the %d byte header", n, headerSize)
	}
	if int(n)+lenSize > MaxSize {
		return Frame{}, ErrTooLarge
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	d := binary.NewDecoder(b)
	f := Frame{
		Kind: Kind(binary.Decode[uint8](d)),
		ID:   binary.Decode[uint32](d),
	}
	comp := compress.Compression(binary.Decode[uint8](d))
	if err := d.Err(); err != nil {
		return Frame{}, err
	}

	f.Body, err = compress.Decompress(comp, d.Rest())
	if err != nil {
		return Frame{}, fmt.Errorf("decompressing %s frame %d with %s: %w", f.Kind, f.ID, comp, err)
	}
	return f, nil
}
