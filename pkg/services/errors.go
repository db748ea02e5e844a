// Package services implements the persistent stores behind the job
// controller, the credit/quota controller, and the vector memory.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when creating a duplicate entity.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrJobTerminal is returned when an operation requires a live job
	// but the job has already reached a terminal state.
	ErrJobTerminal = errors.New("job is in a terminal state")

	// ErrJobNotTerminal is returned when deleting a job that is still
	// queued or running.
	ErrJobNotTerminal = errors.New("job is not in a terminal state")

	// ErrInsufficientCredits is returned when a deduction would make the
	// balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ValidationError wraps field-specific validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
