// Package binary provides little endian integer encoding for the mbus wire frames using generics.
package binary

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/exp/constraints"
)

// Enc is the byte order used on the wire.
var Enc = binary.LittleEndian

// Size returns the number of bytes an integer of type T occupies on the wire.
func Size[T constraints.Integer]() int {
	var r T
	switch any(r).(type) {
	case int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32:
		return 4
	case int64, uint64:
		return 8
	}
	panic(fmt.Sprintf("unsupported type that passed the type constraint %T", r))
}

// Get gets any integer size from a []byte slice.
func Get[T constraints.Integer](b []byte) T {
	_ = b[Size[T]()-1] // bounds check hint to compiler; see golang.org/issue/14808

	var r T
	switch any(r).(type) {
	case int8, uint8:
		return T(b[0])
	case int16, uint16:
		return T(Enc.Uint16(b))
	case int32, uint32:
		return T(Enc.Uint32(b))
	case int64, uint64:
		return T(Enc.Uint64(b))
	}
	panic(fmt.Sprintf("unsupported type that passed the type constraint %T", r))
}

// Put puts any integer size into a []byte slice.
func Put[T constraints.Integer](b []byte, v T) {
	switch Size[T]() {
	case 1:
		b[0] = byte(v)
	case 2:
		Enc.PutUint16(b, uint16(v))
	case 4:
		Enc.PutUint32(b, uint32(v))
	default:
		Enc.PutUint64(b, uint64(v))
	}
}

// Append appends the encoding of v to b and returns the extended slice.
func Append[T constraints.Integer](b []byte, v T) []byte {
	switch Size[T]() {
	case 1:
		return append(b, byte(v))
	case 2:
		return Enc.AppendUint16(b, uint16(v))
	case 4:
		return Enc.AppendUint32(b, uint32(v))
	}
	return Enc.AppendUint64(b, uint64(v))
}

// Read reads an integer of type T from r.
func Read[T constraints.Integer](r io.Reader) (T, error) {
	var buf [8]byte
	b := buf[:Size[T]()]
	if _, err := io.ReadFull(r, b); err != nil {
		return 0, err
	}
	return Get[T](b), nil
}

// Decoder reads integers and length prefixed strings from a byte slice. The first
// error sticks and all later reads return zero values.
type Decoder struct {
	b   []byte
	err error
}

// NewDecoder returns a Decoder reading from b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Err returns the first error encountered.
func (d *Decoder) Err() error {
	return d.err
}

// Len returns the number of unread bytes.
func (d *Decoder) Len() int {
	return len(d.b)
}

// Rest returns the unread bytes.
func (d *Decoder) Rest() []byte {
	return d.b
}

// Next returns the next n bytes.
func (d *Decoder) Next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.b) {
		d.err = fmt.Errorf("need %d bytes, have %d: %w", n, len(d.b), io.ErrUnexpectedEOF)
		return nil
	}
	out := d.b[:n]
	d.b = d.b[n:]
	return out
}

// String reads a string prefixed with a uint16 length.
func (d *Decoder) String() string {
	n := Decode[uint16](d)
	return string(d.Next(int(n)))
}

// Decode reads an integer of type T from d.
func Decode[T constraints.Integer](d *Decoder) T {
	b := d.Next(Size[T]())
	if b == nil {
		return 0
	}
	return Get[T](b)
}

// AppendString appends s prefixed with a uint16 length.
func AppendString(b []byte, s string) ([]byte, error) {
	if len(s) > 0xFFFF {
		return nil, fmt.Errorf("string of length %d exceeds the 65535 byte limit", len(s))
	}
	b = Append(b, uint16(len(s)))
	return append(b, s...), nil
}
