// Package remote provides an HTTP client for the authoritative camp store
// (a REST rows API over camp_state and daily_schedules) with automatic
// retry, backoff, and error classification.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest       = errors.New("remote: bad request")
	ErrPermissionDenied = errors.New("remote: permission denied")
	ErrNotFound         = errors.New("remote: not found")
	ErrConflict         = errors.New("remote: conflict")
	ErrThrottled        = errors.New("remote: throttled")
	ErrServerError      = errors.New("remote: server error")
)

// StoreError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type StoreError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *StoreError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes. Both 401 and 403 classify as
// permission denied: the store's row-level access control answers with
// either depending on whether the token is missing or merely unprivileged,
// and callers treat them identically (fall back to local state).
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrPermissionDenied
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
// Permission and not-found responses are deterministic and never retried.
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
