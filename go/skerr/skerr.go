// Package skerr provides error wrapping with stack traces.
//
// All errors that cross a package boundary should be wrapped with Wrap,
// Wrapf, or created with Fmt so that the original call site is preserved.
package skerr

import (
	"github.com/pkg/errors"
)

// Wrap annotates err with a stack trace at the point Wrap was called. If err
// is nil, Wrap returns nil.
func Wrap(err error) error {
	return errors.WithStack(err)
}

// Wrapf annotates err with a stack trace and the format specifier. If err is
// nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Fmt returns a new error with a stack trace and the given message.
func Fmt(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Unwrap returns the result of calling the Unwrap method on err, if
// available, otherwise err itself.
func Unwrap(err error) error {
	return errors.Cause(err)
}
