package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the fetcher.
var (
	// ErrTransport matches any failure to obtain a response: DNS, dial,
	// TLS, timeouts and truncated bodies.
	ErrTransport = errors.New("transport error")

	// ErrBadStatus matches a response with a non-2xx status code.
	ErrBadStatus = errors.New("bad status")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassTransport represents network, timeout and body read failures.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassStatus represents non-2xx upstream responses.
	ErrorClassStatus ErrorClass = "status"
)

// Error describes a failed feed download.
type Error struct {
	URL        string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Class == ErrorClassStatus {
		return fmt.Sprintf("fetch %s: %s %d %s", e.URL, ErrBadStatus, e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, ErrTransport, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, ErrTransport)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the class sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Class == ErrorClassTransport
	case ErrBadStatus:
		return e.Class == ErrorClassStatus
	}
	return false
}

// shouldRetry determines if an error is worth another attempt.
func shouldRetry(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Class {
	case ErrorClassTransport:
		return true
	case ErrorClassStatus:
		// 5xx and 429 are transient, other 4xx will not change on retry
		return fe.StatusCode >= 500 || fe.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
