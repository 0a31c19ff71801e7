package pos

import (
	"errors"
	"fmt"
	"time"
)

type ErrorCode string

const (
	ErrAuthentication ErrorCode = "POS_AUTHENTICATION_FAILED"
	ErrRateLimited    ErrorCode = "POS_RATE_LIMITED"
	ErrNotFound       ErrorCode = "POS_NOT_FOUND"
	ErrNotConfigured  ErrorCode = "POS_NOT_CONFIGURED"
	ErrProvider       ErrorCode = "POS_PROVIDER_ERROR"
)

// Error is the typed adapter error surfaced by every provider. The code
// determines how the job queue treats the failure.
type Error struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	// RetryAfter is the provider-supplied backoff hint, when present.
	RetryAfter *time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func AuthenticationError(message string, status int) *Error {
	return &Error{Code: ErrAuthentication, Message: message, StatusCode: status}
}

func RateLimitError(message string, status int, retryAfter *time.Duration) *Error {
	return &Error{Code: ErrRateLimited, Message: message, StatusCode: status, RetryAfter: retryAfter}
}

func NotFoundError(message string) *Error {
	return &Error{Code: ErrNotFound, Message: message, StatusCode: 404}
}

func NotConfiguredError(message string) *Error {
	return &Error{Code: ErrNotConfigured, Message: message}
}

func ProviderError(message string, status int, cause error) *Error {
	return &Error{Code: ErrProvider, Message: message, StatusCode: status, Cause: cause}
}

func AsError(err error) (*Error, bool) {
	var posErr *Error
	if errors.As(err, &posErr) {
		return posErr, true
	}
	return nil, false
}

// IsRecoverable reports whether the error should be retried through the job
// queue. Authentication and configuration failures are fatal until an
// operator intervenes; everything else (rate limits, provider 5xx, network
// timeouts) gets backoff.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	posErr, ok := AsError(err)
	if !ok {
		return true
	}
	switch posErr.Code {
	case ErrAuthentication, ErrNotConfigured:
		return false
	case ErrNotFound:
		return false
	default:
		return true
	}
}

// RetryAfterHint extracts the provider backoff hint, if any.
func RetryAfterHint(err error) *time.Duration {
	if posErr, ok := AsError(err); ok {
		return posErr.RetryAfter
	}
	return nil
}
