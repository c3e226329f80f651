package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrBodyTooLarge is returned when a response exceeds Config.MaxBodyBytes.
var ErrBodyTooLarge = errors.New("fetch: response body too large")

// StatusError is a non-2xx answer from the media API.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       []byte
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("fetch: %s: status %d %s", e.URL, e.StatusCode, status)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Forbidden reports whether the server rejected the session.
func (e *StatusError) Forbidden() bool {
	return e.StatusCode == http.StatusForbidden
}

// IsRetryable reports whether err is a transient failure. Cancellation of
// the caller's context is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
