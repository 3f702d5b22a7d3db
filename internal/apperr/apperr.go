// Package apperr defines the error taxonomy shared by all services. Handlers
// translate these into the `{success:false, message}` envelope; everything
// else is treated as an internal error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and logging.
type Kind int

const (
	KindInternal Kind = iota
	// KindValidation covers malformed or out-of-range input.
	KindValidation
	// KindUnauthenticated covers missing or invalid credentials.
	KindUnauthenticated
	// KindForbidden covers an actor lacking the role for an action.
	KindForbidden
	// KindNotFound covers an absent referenced entity.
	KindNotFound
	// KindConflict covers an unmet status precondition, e.g. double-accept.
	KindConflict
	// KindDuplicate covers a uniqueness violation, e.g. double-rating.
	KindDuplicate
	// KindPartialFailure marks a multi-step operation that succeeded
	// partially and needs reconciliation or retry.
	KindPartialFailure
	// KindTransport marks broker publish/subscribe failures. Never surfaced
	// over REST; the message store stays authoritative.
	KindTransport
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindDuplicate:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Duplicate(message string) *Error {
	return &Error{Kind: KindDuplicate, Message: message}
}

// PartialFailure wraps the underlying cause so the log line carries enough
// context to reconcile manually or via retry.
func PartialFailure(message string, err error) *Error {
	return &Error{Kind: KindPartialFailure, Message: message, Err: err}
}

func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
}

// From extracts an *Error from err, or wraps it as internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
