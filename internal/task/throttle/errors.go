package throttle

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed  = errors.New("scheduler closed")
	ErrCleared = errors.New("task cleared before start")
	ErrNoWork  = errors.New("task has no work")
)

// NoRetry marks an error as non-retryable.
//
// Work can wrap permanent failures with NoRetry so the scheduler won't waste
// attempts on them:
//
//	return nil, throttle.NoRetry(fmt.Errorf("bad selector: %w", err))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter provides a suggested delay before the next attempt
// (e.g. a Retry-After header). The hint is bounded by Config.RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// StatusCoder is implemented by errors that carry a protocol status code.
type StatusCoder interface {
	StatusCode() int
}

// WithStatus attaches a status code to err so the scheduler can classify it.
func WithStatus(err error, code int) error {
	if err == nil {
		return nil
	}
	return statusError{err: err, code: code}
}

type statusError struct {
	err  error
	code int
}

func (e statusError) Error() string   { return fmt.Sprintf("status %d: %v", e.code, e.err) }
func (e statusError) Unwrap() error   { return e.err }
func (e statusError) StatusCode() int { return e.code }

// StatusCode returns the first status code found in err's chain, or 0.
func StatusCode(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// RetriesExhaustedError is delivered when every attempt failed.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// NonRetryableError is delivered when a failure was classified as permanent.
type NonRetryableError struct {
	Attempts int
	Err      error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable failure on attempt %d: %v", e.Attempts, e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// TimeoutError reports that an attempt outlived Task.Timeout. It is transient.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s: %v", e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
