package frame

import (
	"fmt"

	"github.com/bearlytools/mbus/internal/binary"
)

// Request is the body of a KindRequest frame.
type Request struct {
	Method string
	Params Values
}

// Marshal encodes r as: u16 length + method | values.
func (r Request) Marshal() ([]byte, error) {
	if r.Method == "" {
		return nil, fmt.Errorf("request has no method name")
	}
	b, err := binary.AppendString(nil, r.Method)
	if err != nil {
		return nil, err
	}
	return r.Params.appendTo(b)
}

// UnmarshalRequest decodes a Request encoded by Request.Marshal.
func UnmarshalRequest(b []byte) (Request, error) {
	d := binary.NewDecoder(b)
	r := Request{Method: d.String()}
	params, err := decodeValues(d)
	if err != nil {
		return Request{}, fmt.Errorf("bad request: %w", err)
	}
	if d.Len() != 0 {
		return Request{}, fmt.Errorf("bad request: %d trailing bytes", d.Len())
	}
	r.Params = params
	return r, nil
}

// Reply is the body of a KindReply frame. A Code of CodeNone means success.
type Reply struct {
	Code    Code
	Message string
	Values  Values
}

// Marshal encodes r as: u32 code | u16 length + message | values.
func (r Reply) Marshal() ([]byte, error) {
	b := binary.Append(nil, uint32(r.Code))
	b, err := binary.AppendString(b, r.Message)
	if err != nil {
		return nil, err
	}
	return r.Values.appendTo(b)
}

// UnmarshalReply decodes a Reply encoded by Reply.Marshal.
func UnmarshalReply(b []byte) (Reply, error) {
	d := binary.NewDecoder(b)
	r := Reply{
		Code:    Code(binary.Decode[uint32](d)),
		Message: d.String(),
	}
	vals, err := decodeValues(d)
	if err != nil {
		return Reply{}, fmt.Errorf("bad reply: %w", err)
	}
	if d.Len() != 0 {
		return Reply{}, fmt.Errorf("bad reply: %d trailing bytes", d.Len())
	}
	r.Values = vals
	return r, nil
}
