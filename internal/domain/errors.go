package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers missing and soft-deleted entities alike.
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden is returned on owner mismatch, and for chunk access
	// while the parent document has not finished processing.
	ErrForbidden = errors.New("access denied")

	// ErrDuplicateDocument is returned when a document with the same file
	// hash already exists in the same knowledge base.
	ErrDuplicateDocument = errors.New("document with identical content already exists in this knowledge base")

	// ErrTimeout marks a per-call or overall processing deadline expiry.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidStatusTransition is returned when a requested document
	// status change is not allowed by the state machine.
	ErrInvalidStatusTransition = errors.New("invalid document status transition")

	// ErrSessionNotFound is returned for unknown or expired session tokens.
	ErrSessionNotFound = errors.New("session not found")
)

// ValidationError carries field-level details for malformed requests.
type ValidationError struct {
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string, details map[string]string) *ValidationError {
	return &ValidationError{Message: message, Details: details}
}

// UpstreamError represents a non-2xx response from the embedding provider.
// The status code lets callers distinguish auth failures from transient ones.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("embedding provider error: %s (status: %d)", e.Message, e.StatusCode)
}

func (e *UpstreamError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func (e *UpstreamError) IsAuthError() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsUpstreamError checks if an error is an embedding provider error.
func IsUpstreamError(err error) (*UpstreamError, bool) {
	var e *UpstreamError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
