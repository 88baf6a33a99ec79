package httpclient

import (
	"errors"
	"fmt"
	"time"
)

// StatusError is returned by Client.Do for non-2xx responses. The response
// body has already been read and closed.
type StatusError struct {
	StatusCode int
	Message    string
	Strategy   RetryStrategy
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Strategy != NoRetry
}

// RetryAfterHint returns the server-provided wait for rate-limit and
// unavailable responses, zero otherwise.
func (e *StatusError) RetryAfterHint() time.Duration {
	if e.Strategy != SmartRetry {
		return 0
	}
	return e.RetryAfter
}

// TransportError wraps a failure to get any response at all: DNS, dial,
// TLS or a client timeout. It is always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Retryable() bool {
	return true
}

// IsRetryable reports whether err came from this package and is classified as
// retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// StatusCode extracts the HTTP status from a StatusError, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
