package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is matched by every RetryExhaustedError.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a fetch.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrLimiterUnavailable wraps failures of the rate limiter itself,
	// e.g. a shared Redis window that cannot be reached.
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

// TransientFetchError is a failure worth retrying: a network error, a
// timeout, a 5xx or a rate-limit response.
type TransientFetchError struct {
	Upstream   string
	Path       string
	StatusCode int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *TransientFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s error: %s: %v", e.Upstream, e.ErrorClass, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s error (status %d): %s", e.Upstream, e.ErrorClass, e.StatusCode, e.Path)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// PermanentFetchError is a failure that retrying cannot fix (4xx other than
// rate limiting).
type PermanentFetchError struct {
	Upstream   string
	Path       string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *PermanentFetchError) Error() string {
	return fmt.Sprintf("%s request failed (status %d): %s: %s", e.Upstream, e.StatusCode, e.Path, e.Message)
}

// RetryExhaustedError is returned when a transient failure persisted through
// every allowed attempt.
type RetryExhaustedError struct {
	Upstream string
	Path     string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetryExhausted, e.Attempts, e.Last)
}

// Unwrap returns the last underlying failure.
func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Is makes errors.Is(err, ErrRetryExhausted) hold.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// UpstreamUnavailableError reports that a data source required for the whole
// run could not be reached.
type UpstreamUnavailableError struct {
	Upstream string
	Err      error
}

// Error implements the error interface.
func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("data source unavailable: %s: %v", e.Upstream, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *UpstreamUnavailableError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a permanent 404.
func IsNotFound(err error) bool {
	var perm *PermanentFetchError
	return errors.As(err, &perm) && perm.StatusCode == http.StatusNotFound
}

// IsUnreachable reports whether err means the upstream could not be reached:
// retries ran out, a transient error surfaced, or the limiter failed.
// Permanent responses, undecodable bodies and cancellation are not.
func IsUnreachable(err error) bool {
	if err == nil || errors.Is(err, ErrContextCancelled) {
		return false
	}
	var transient *TransientFetchError
	return errors.Is(err, ErrRetryExhausted) ||
		errors.Is(err, ErrLimiterUnavailable) ||
		errors.As(err, &transient)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx errors other than rate limiting are not retried
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
