package errors

import "errors"

// ErrorInfo holds a user-facing message and a transport status for an error.
type ErrorInfo struct {
	// Message is the user-friendly error description.
	Message string
	// HTTPStatus is the status code used by the HTTP API.
	HTTPStatus int
}

type errorEntry struct {
	err  error
	info ErrorInfo
}

// errorInfoEntries maps sentinels to their user-facing info. A slice, not a
// map, because matching walks the error chain with errors.Is.
//
//nolint:gochecknoglobals // Pre-built mapping
var errorInfoEntries = []errorEntry{
	{err: ErrNotFound, info: ErrorInfo{Message: "The requested record does not exist.", HTTPStatus: 404}},
	{err: ErrDuplicateName, info: ErrorInfo{Message: "A record with that name already exists here.", HTTPStatus: 409}},
	{err: ErrInvalidState, info: ErrorInfo{Message: "The operation is not allowed in the current state.", HTTPStatus: 409}},
	{err: ErrPermissionDenied, info: ErrorInfo{Message: "You are not allowed to do that.", HTTPStatus: 403}},
	{err: ErrInvalidInput, info: ErrorInfo{Message: "The request contains invalid values.", HTTPStatus: 400}},
}

// Info returns the user-facing info for err, falling back to a generic
// internal error when no sentinel matches.
func Info(err error) ErrorInfo {
	for _, entry := range errorInfoEntries {
		if errors.Is(err, entry.err) {
			return entry.info
		}
	}
	return ErrorInfo{Message: "Internal error.", HTTPStatus: 500}
}

// UserMessage returns the user-facing message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return Info(err).Message
}
