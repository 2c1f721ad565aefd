// Package bkerrors provides the standardized error type used across the
// streaming runtime: Error captures component, operation, and an optional
// HTTP status code and structured details, and implements Unwrap for
// seamless use with errors.Is / errors.As.
//
// Usage:
//
//	err := bkerrors.New("bubble", "Config", cause).WithKind(bkerrors.KindInvalidConfig)
package bkerrors

import "fmt"

// Kind classifies an Error. It mirrors the error taxonomy in spec.md §7.
type Kind string

const (
	// KindInvalidConfig marks a rejected bubble config patch (forbidden
	// key, or malformed conversation-index entry).
	KindInvalidConfig Kind = "invalid_config"
	// KindNoActiveContext marks a handler-API call made outside an
	// active context binding.
	KindNoActiveContext Kind = "no_active_context"
	// KindBubbleNotFound marks a lookup of an unknown bubble ID.
	KindBubbleNotFound Kind = "bubble_not_found"
	// KindStreamAlreadyAttached marks a second attach attempt on a
	// session that already has a sink.
	KindStreamAlreadyAttached Kind = "stream_already_attached"
	// KindHandlerError marks an uncaught failure from user handler code.
	KindHandlerError Kind = "handler_error"
	// KindWriteFailure marks a sink writer failure.
	KindWriteFailure Kind = "write_failure"
	// KindTimeout marks a first-event or idle timeout.
	KindTimeout Kind = "timeout"
	// KindNotFound marks a lookup miss unrelated to bubbles (e.g. an
	// unknown stream ID on cancel).
	KindNotFound Kind = "not_found"
)

// Error is a structured error type that provides consistent context about
// where and why an error occurred across runtime packages.
type Error struct {
	// Component identifies the package that produced the error (e.g. "bubble", "controller").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Kind classifies the error by the runtime's error taxonomy. May be
	// empty.
	Kind Kind

	// StatusCode is an optional HTTP status code.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates an Error with the given component, operation, and cause.
func New(component, operation string, cause error) *Error {
	return &Error{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error returns a human-readable representation of the error.
func (e *Error) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithKind returns the same error with Kind set, for chaining at construction.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// WithStatusCode returns the same error with the given status code set.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// WithDetails returns the same error with the given details map set.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
