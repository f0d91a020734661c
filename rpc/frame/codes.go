package frame

import "fmt"

// Code is the error code carried in a Reply. The values are shared by every mbus
// endpoint, so they must never be renumbered.
type Code uint32

const (
	CodeNone           Code = 0
	CodeGeneral        Code = 100
	CodeNotImplemented Code = 101
	CodeAbort          Code = 102
	CodeTimeout        Code = 103
	CodeConnection     Code = 104
	CodeBadRequest     Code = 105
	CodeNoSuchMethod   Code = 106
	CodeWrongParams    Code = 107
	CodeOverload       Code = 108
	CodeWrongReturn    Code = 109
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeGeneral:
		return "general error"
	case CodeNotImplemented:
		return "not implemented"
	case CodeAbort:
		return "aborted"
	case CodeTimeout:
		return "timeout"
	case CodeConnection:
		return "connection error"
	case CodeBadRequest:
		return "bad request"
	case CodeNoSuchMethod:
		return "no such method"
	case CodeWrongParams:
		return "wrong parameters"
	case CodeOverload:
		return "overload"
	case CodeWrongReturn:
		return "wrong return values"
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}
