package server

import (
	"fmt"

	"github.com/gostdlib/base/context"

	"github.com/bearlytools/mbus/rpc/frame"
)

// HandlerFunc answers one request. The returned values are sent back as the reply.
// A returned *Error is sent with its Code, any other error with frame.CodeGeneral.
type HandlerFunc func(ctx context.Context, params frame.Values) (frame.Values, error)

// Error is an error with an explicit reply code.
type Error struct {
	Code frame.Code
	Msg  string
}

// Errorf returns an *Error with code c.
func Errorf(c frame.Code, format string, args ...any) *Error {
	return &Error{Code: c, Msg: fmt.Sprintf(format, args...)}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}
