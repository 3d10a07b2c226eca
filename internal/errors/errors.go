// Package errors provides custom error types used throughout tumulus and
// also provides the option to use error types from github.com/pkg/errors.
//
// Package errors exports some functions from github.com/pkg/errors so that
// callers do not need to use two different packages for errors.
package errors

import "github.com/pkg/errors"

// New creates a new error based on message. Wrapped so that this package
// does not need to be imported alongside "github.com/pkg/errors".
func New(message string) error {
	return errors.New(message)
}

// Errorf creates a new error based on a format string and some data.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Wrap wraps an error and adds additional context.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf wraps an error and adds additional context.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// WithStack adds a stack trace to err, if it doesn't already contain one.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// Cause returns the cause of an error, if one is set. Otherwise err is
// returned directly.
func Cause(err error) error {
	return errors.Cause(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// fatalError is an error that should be printed to the user, then the
// process should exit with a non-zero status, without printing a stack
// trace.
type fatalError string

func (e fatalError) Error() string {
	return string(e)
}

// Fatal returns a fatalError, which is printed to the user on the top
// level, without any context or stack trace.
func Fatal(s string) error {
	return fatalError(s)
}

// Fatalf creates an error with fmt.Sprintf and marks it as fatal.
func Fatalf(s string, args ...interface{}) error {
	return fatalError(errors.Errorf(s, args...).Error())
}

// IsFatal returns true if err is a fatal error.
func IsFatal(err error) bool {
	_, ok := Cause(err).(fatalError)
	return ok
}
