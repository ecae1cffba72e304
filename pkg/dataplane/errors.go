package dataplane

import (
	"errors"
	"fmt"
	"time"
)

// Common client errors that can be checked with errors.Is().
var (
	// ErrAPIFailure is returned when the proxy API responds with a non-2xx
	// status.
	ErrAPIFailure = errors.New("proxy API request failed")

	// ErrValidationFailed is returned when the proxy rejects the pending
	// configuration during a dry-run validation.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrTimeout is returned when a request exceeds its deadline.
	ErrTimeout = errors.New("proxy API request timed out")

	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")
)

// APIError is returned when the proxy API responds with a non-2xx status.
type APIError struct {
	// Operation is the logical operation that failed (e.g. "get backends").
	Operation string

	// StatusCode is the HTTP status returned by the proxy API.
	StatusCode int

	// Message is the response body, truncated.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("proxy API %s failed: status %d: %s",
		e.Operation, e.StatusCode, e.Message)
}

// Is implements error matching for errors.Is().
func (e *APIError) Is(target error) bool {
	if target == ErrNotFound {
		return e.StatusCode == 404
	}
	return target == ErrAPIFailure
}

// ValidationError is returned when the proxy's dry-run validator rejects
// the pending configuration.
type ValidationError struct {
	// TransactionID is the transaction whose configuration was rejected.
	TransactionID string

	// Details is the proxy-reported reason.
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("configuration validation failed: %s", e.Details)
	}
	return fmt.Sprintf("configuration validation failed for transaction %s: %s",
		e.TransactionID, e.Details)
}

// Is implements error matching for errors.Is().
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// TimeoutError is returned when a request exceeds its deadline.
type TimeoutError struct {
	// Operation is the logical operation that timed out.
	Operation string

	// Timeout is the deadline that was exceeded.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("proxy API %s timed out after %s", e.Operation, e.Timeout)
}

// Is implements error matching for errors.Is().
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
