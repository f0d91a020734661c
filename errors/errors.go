// Package errors provides the error model for mbus. It wraps github.com/gostdlib/base/errors
// with the categories and types used by the message bus and re-exports the stdlib functions.
package errors

import (
	"github.com/gostdlib/base/context"
	"github.com/gostdlib/base/errors"
)

// Category represents the category of the error.
type Category uint32

// Category implements errors.Category.
func (c Category) Category() string {
	return c.String()
}

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case CatUser:
		return "User"
	case CatInternal:
		return "Internal"
	case CatRemote:
		return "Remote"
	}
	return "Unknown"
}

const (
	// CatUnknown represents an unknown category. This should not be used.
	CatUnknown Category = Category(0)
	// CatUser represents an error that is caused by bad user input.
	CatUser Category = Category(1)
	// CatInternal represents an internal error.
	CatInternal Category = Category(2)
	// CatRemote represents an error reported by a remote endpoint.
	CatRemote Category = Category(3)
)

// Type represents the type of the error.
type Type uint16

// Type implements errors.Type.
func (t Type) Type() string {
	return t.String()
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeBug:
		return "Bug"
	case TypeParameter:
		return "Parameter"
	case TypeConn:
		return "Conn"
	case TypeTimeout:
		return "TimeoutOrCancel"
	case TypeFS:
		return "FS"
	case TypeShutdown:
		return "Shutdown"
	case TypeRemoteMethod:
		return "RemoteMethod"
	}
	return "Unknown"
}

const (
	// TypeUnknown represents an unknown type.
	TypeUnknown Type = Type(0)
	// TypeBug represents a bug in the calling code. An example would be a switch statement
	// that doesn't cover all cases.
	TypeBug Type = Type(1)
	// TypeParameter represents an error with a parameter that didn't pass validation.
	TypeParameter Type = Type(2)
	// TypeConn represents an error with a connection.
	TypeConn Type = Type(3)
	// TypeTimeout represents a timeout error or cancelation.
	TypeTimeout Type = Type(4)
	// TypeFS represents an error with the file system.
	TypeFS Type = Type(5)
	// TypeShutdown represents work submitted to something that has been shut down.
	TypeShutdown Type = Type(6)
	// TypeRemoteMethod represents a failure reported by the remote method itself.
	TypeRemoteMethod Type = Type(7)
)

// LogAttrer is an interface that can be implemented by an error to return a list of attributes
// used in logging.
type LogAttrer = errors.LogAttrer

// Error is the error type for this module. Error implements github.com/gostdlib/base/errors.E .
type Error = errors.Error

// EOption is an optional argument for E().
type EOption = errors.EOption

// WithSuppressTraceErr will prevent the trace as being recorded with an error status.
// The trace will still receive the error message.
func WithSuppressTraceErr() EOption {
	return errors.WithSuppressTraceErr()
}

// WithCallNum is used if you need to set the runtime.CallNum() in order to get the correct filename and line.
// This defaults to 1 which sets to the frame of the caller of E().
func WithCallNum(i int) EOption {
	return errors.WithCallNum(i)
}

// WithStackTrace will add a stack trace to the error.
func WithStackTrace() EOption {
	return errors.WithStackTrace()
}

// E creates a new Error with the given parameters.
func E(ctx context.Context, c errors.Category, t errors.Type, msg error, options ...errors.EOption) Error {
	// We are a wrapper, so skip one more frame unless the caller says otherwise.
	opts := make([]errors.EOption, 0, len(options)+1)
	opts = append(opts, WithCallNum(2))
	opts = append(opts, options...)

	return errors.E(ctx, c, t, msg, opts...)
}
