package errors

import (
	"fmt"

	"github.com/gostdlib/base/errors"
)

// Everything below wraps the stdlib errors functions so callers only import this package.

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target, and if so, sets
// target to that error value and returns true.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors. Any nil error values are discarded.
// Join returns nil if every value in errs is nil. The error formats as the concatenation
// of the strings obtained by calling the Error method of each element of errs, with a newline between each string.
// A non-nil error returned by Join implements the Unwrap() []error method.
func Join(err ...error) error {
	return errors.Join(err...)
}

// Errorf formats according to a format specifier and returns it as an error. It supports %w.
func Errorf(format string, a ...any) error {
	return fmt.Errorf(format, a...)
}
