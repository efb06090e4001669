package appcore

import (
	"errors"
	"fmt"
)

// ErrValidationFailed is matched by every ValidationError
var ErrValidationFailed = errors.New("validation failed")

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidationFailed) match.
func (e ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
