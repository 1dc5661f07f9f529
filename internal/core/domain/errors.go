package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the fixed failure taxonomy. Every error that crosses a component
// boundary carries one.
type Kind string

const (
	KindValidationFailed    Kind = "ValidationFailed"
	KindUnauthorized        Kind = "Unauthorized"
	KindNotFound            Kind = "NotFound"
	KindRateLimited         Kind = "RateLimited"
	KindProviderUnavailable Kind = "ProviderUnavailable"
	KindInternalError       Kind = "InternalError"
)

// Error is a tagged failure. Message is safe to show the caller; Err keeps the
// full diagnostic cause for logs.
type Error struct {
	Kind       Kind
	Message    string
	Field      string
	RetryAfter time.Duration
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field %s)", msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind tag of err, or KindInternalError if err is untagged.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternalError
}

// ErrValidation reports a malformed request field.
func ErrValidation(field, message string) *Error {
	return &Error{Kind: KindValidationFailed, Field: field, Message: message}
}

// ErrUnauthorized reports a missing or rejected identity.
func ErrUnauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// ErrNotFound reports an unknown model or resource.
func ErrNotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// ErrRateLimited reports that the caller or upstream is throttled.
func ErrRateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// ErrProviderUnavailable reports an upstream outage or rejection.
func ErrProviderUnavailable(message string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindProviderUnavailable, Message: message, RetryAfter: retryAfter, Err: cause}
}

// ErrProviderTimeout reports that the upstream call exceeded its deadline.
func ErrProviderTimeout(limit time.Duration, cause error) *Error {
	return &Error{
		Kind:    KindProviderUnavailable,
		Message: fmt.Sprintf("provider did not finish within %s", limit),
		Timeout: true,
		Err:     cause,
	}
}

// ErrInternal wraps an unanticipated failure.
func ErrInternal(cause error) *Error {
	return &Error{Kind: KindInternalError, Message: "internal error", Err: cause}
}

// IsTimeout reports whether err is a provider timeout.
func IsTimeout(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Timeout
}
