// Package apierr defines the error taxonomy shared by all elevation
// components. Every failure that crosses a package boundary carries a Kind;
// the HTTP layer maps kinds to status codes and never exposes more than the
// short message.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Kind classifies a failure for propagation and HTTP mapping.
type Kind string

const (
	NotAuthenticated       Kind = "NOT_AUTHENTICATED"
	AccessDenied           Kind = "ACCESS_DENIED"
	NotFound               Kind = "NOT_FOUND"
	QuotaExceeded          Kind = "QUOTA_EXCEEDED"
	ResourceExhausted      Kind = "RESOURCE_EXHAUSTED"
	InvalidArgument        Kind = "INVALID_ARGUMENT"
	InvalidToken           Kind = "INVALID_TOKEN"
	AlreadyExists          Kind = "ALREADY_EXISTS"
	FeatureNotAvailable    Kind = "FEATURE_NOT_AVAILABLE"
	Conflict               Kind = "CONFLICT"
	ConflictRetryExhausted Kind = "CONFLICT_RETRY_EXHAUSTED"
	IncompleteOperation    Kind = "INCOMPLETE_OPERATION"
	NotSupported           Kind = "NOT_SUPPORTED"
	Internal               Kind = "INTERNAL"
)

// Error is the concrete error type carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether the caller may retry the failed operation.
func Retriable(err error) bool {
	switch KindOf(err) {
	case QuotaExceeded, ResourceExhausted, Conflict, IncompleteOperation:
		return true
	}
	return false
}

// Message returns the short human-readable detail for external responses.
// Causes are never included.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the status code the REST layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotAuthenticated:
		return http.StatusUnauthorized
	case AccessDenied, InvalidToken:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case QuotaExceeded, ResourceExhausted:
		return http.StatusTooManyRequests
	case InvalidArgument:
		return http.StatusBadRequest
	case AlreadyExists, Conflict, ConflictRetryExhausted:
		return http.StatusConflict
	case IncompleteOperation:
		return http.StatusServiceUnavailable
	case NotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// FromGoogleAPI classifies a google.golang.org/api error by status code.
// Non-API errors pass through as Internal.
func FromGoogleAPI(err error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &Error{Kind: Internal, Message: msg, Cause: err}
	}
	switch gerr.Code {
	case http.StatusUnauthorized:
		return &Error{Kind: NotAuthenticated, Message: msg, Cause: err}
	case http.StatusForbidden:
		return &Error{Kind: AccessDenied, Message: msg, Cause: err}
	case http.StatusNotFound:
		return &Error{Kind: NotFound, Message: msg, Cause: err}
	case http.StatusTooManyRequests:
		return &Error{Kind: QuotaExceeded, Message: msg, Cause: err}
	case http.StatusConflict:
		// CRM reports etag mismatches on SetIamPolicy as 409.
		return &Error{Kind: Conflict, Message: msg, Cause: err}
	case http.StatusBadRequest:
		return &Error{Kind: InvalidArgument, Message: msg, Cause: err}
	default:
		return &Error{Kind: Internal, Message: msg, Cause: err}
	}
}
