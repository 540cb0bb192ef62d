// Package graph is a typed, authenticated HTTP client for the Microsoft
// Graph note store. It handles bearer injection, retry with exponential
// backoff, and classification of HTTP failures into a small closed set of
// error kinds — raw transport errors never cross this package's boundary.
package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for failure classification. Use errors.Is to check.
var (
	// ErrNotAuthenticated means no valid token was available when an API
	// call was attempted, or the provider rejected the one we sent.
	ErrNotAuthenticated = errors.New("graph: not authenticated")

	// ErrNotFound covers 404/410 responses. Not retryable.
	ErrNotFound = errors.New("graph: remote item not found")

	// ErrConflict covers optimistic-write collisions (409/412/423).
	// Not auto-retried; surfaced to the caller.
	ErrConflict = errors.New("graph: remote conflict")

	// ErrTransport covers network failures and 5xx-class responses.
	// Considered retryable.
	ErrTransport = errors.New("graph: transport error")
)

// APIError wraps a sentinel with the HTTP status, the service request id,
// and the response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrNotAuthenticated
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed, http.StatusLocked:
		return ErrConflict
	default:
		return ErrTransport
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
