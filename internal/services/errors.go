// Package services holds the business logic for support conversations and
// the FAQ knowledge base. This file centralizes the error values returned by
// service methods so handlers can map them to HTTP results consistently.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound indicates no conversation exists for the
	// requested (user, session) pair.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrFAQNotFound indicates the FAQ id does not exist or was deleted.
	ErrFAQNotFound = errors.New("faq not found")
)

// ValidationError rejects a request before any core logic runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// CollaboratorError reports a failed completion call. Body carries the
// upstream response body and must only be shown to clients in development.
type CollaboratorError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *CollaboratorError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion failed with status %d", e.StatusCode)
	}
	return "completion failed"
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
