package gatekeep

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure into one of the kinds a caller
// can act on. It deliberately does not distinguish causes beyond this;
// the wrapped cause carries detail for logs, never for the response.
type ErrorKind string

const (
	ErrKindPermissionDenied     ErrorKind = "permission_denied"
	ErrKindPolicyUnavailable    ErrorKind = "policy_unavailable"
	ErrKindAdapterUnavailable   ErrorKind = "adapter_unavailable"
	ErrKindProviderError        ErrorKind = "provider_error"
	ErrKindTransientError       ErrorKind = "transient_error"
	ErrKindTransportReset       ErrorKind = "transport_reset"
	ErrKindRateLimited          ErrorKind = "rate_limited"
	ErrKindInvalidRequest       ErrorKind = "invalid_request"
	ErrKindAuthenticationFailed ErrorKind = "authentication_failed"
	ErrKindInternalError        ErrorKind = "internal_error"
)

// Error is the single error type used across the gateway. Handlers switch
// on Kind to decide the HTTP status and response body; Cause is for logs.
type Error struct {
	Kind   ErrorKind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error, optionally wrapping a cause.
func NewError(kind ErrorKind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// KindOf returns the ErrorKind of err if it is (or wraps) a *Error,
// otherwise ErrKindInternalError.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindInternalError
}
