// Package errors defines the error taxonomy shared by the storage, service and
// transport layers. Callers classify failures with errors.Is against the
// sentinels below; every layer adds context with Wrap or Wrapf.
//
// This package must not import any other internal package.
package errors

import "errors"

var (
	// ErrNotFound indicates that a referenced workflow, stage, task, user or
	// directory record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName indicates that a stage name, task title or other
	// scoped name collides with an existing record.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrInvalidState indicates an operation that is blocked by the current
	// state of the data, e.g. deleting a workflow that still has tasks.
	ErrInvalidState = errors.New("invalid state")

	// ErrPermissionDenied indicates that the caller is not allowed to perform
	// the requested mutation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput indicates that a field failed validation (length,
	// format, required value).
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfigNil indicates that a nil config was passed to validation.
	ErrConfigNil = errors.New("config is nil")

	// ErrConfigInvalid indicates an invalid configuration value.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// Is reports whether any error in err's chain matches target.
// It re-exports the standard library function so callers need one import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
