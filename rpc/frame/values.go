package frame

import (
	"fmt"
	"strings"

	"github.com/bearlytools/mbus/internal/binary"
)

// Type codes of Values, as used by Values.Types.
const (
	TypeString byte = 's'
	TypeInt64  byte = 'l'
)

// Value is a single typed parameter or return value.
type Value struct {
	typ byte
	s   string
	i   int64
}

// StringValue returns a Value holding s.
func StringValue(s string) Value {
	return Value{typ: TypeString, s: s}
}

// Int64Value returns a Value holding i.
func Int64Value(i int64) Value {
	return Value{typ: TypeInt64, i: i}
}

// Type returns the type code of the value.
func (v Value) Type() byte {
	return v.typ
}

// String returns the string held by v. It returns "" if v is not a string.
func (v Value) String() string {
	return v.s
}

// Int64 returns the integer held by v. It returns 0 if v is not an int64.
func (v Value) Int64() int64 {
	return v.i
}

// GoString implements fmt.GoStringer.
func (v Value) GoString() string {
	switch v.typ {
	case TypeString:
		return fmt.Sprintf("s:%q", v.s)
	case TypeInt64:
		return fmt.Sprintf("l:%d", v.i)
	}
	return "<invalid>"
}

// Values is an ordered list of values.
type Values []Value

// AddString appends a string value.
func (vs *Values) AddString(s string) {
	*vs = append(*vs, StringValue(s))
}

// AddInt64 appends an int64 value.
func (vs *Values) AddInt64(i int64) {
	*vs = append(*vs, Int64Value(i))
}

// Types returns the type codes of all values, in order. ("s", "sl", ...)
func (vs Values) Types() string {
	var sb strings.Builder
	for _, v := range vs {
		sb.WriteByte(v.typ)
	}
	return sb.String()
}

func (vs Values) appendTo(b []byte) ([]byte, error) {
	if len(vs) > 0xFFFF {
		return nil, fmt.Errorf("%d values exceed the 65535 value limit", len(vs))
	}
	b = binary.Append(b, uint16(len(vs)))
	var err error
	for _, v := range vs {
		b = append(b, v.typ)
		switch v.typ {
		case TypeString:
			if b, err = binary.AppendString(b, v.s); err != nil {
				return nil, err
			}
		case TypeInt64:
			b = binary.Append(b, v.i)
		default:
			return nil, fmt.Errorf("value has unknown type code %q", v.typ)
		}
	}
	return b, nil
}

func decodeValues(d *binary.Decoder) (Values, error) {
	n := binary.Decode[uint16](d)
	if d.Err() != nil {
		return nil, d.Err()
	}
	var vs Values
	if n > 0 {
		vs = make(Values, 0, n)
	}
	for i := 0; i < int(n); i++ {
		typ := binary.Decode[uint8](d)
		switch typ {
		case TypeString:
			vs = append(vs, StringValue(d.String()))
		case TypeInt64:
			vs = append(vs, Int64Value(binary.Decode[int64](d)))
		default:
			if d.Err() != nil {
				return nil, d.Err()
			}
			return nil, fmt.Errorf("value %d has unknown type code %q", i, typ)
		}
	}
	return vs, d.Err()
}
