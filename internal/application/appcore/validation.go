package appcore

import (
	"fmt"
	"slices"
)

const (
	// MaxTitleLength maximum length of a notification title
	MaxTitleLength = 200

	// MaxBodyLength maximum length of a notification body
	MaxBodyLength = 2000
)

// ValidateRequired checks that the string is not empty
func ValidateRequired(field, value string) error {
	if value == "" {
		return NewValidationError(field, "is required")
	}
	return nil
}

// ValidateMaxLength checks the maximum string length
func ValidateMaxLength(field, value string, maxLength int) error {
	if len(value) > maxLength {
		return NewValidationError(field, fmt.Sprintf("must be at most %d characters", maxLength))
	}
	return nil
}

// ValidateEnum checks that the value is one of the allowed values
func ValidateEnum(field, value string, allowedValues []string) error {
	if slices.Contains(allowedValues, value) {
		return nil
	}
	return NewValidationError(field, fmt.Sprintf("must be one of: %v", allowedValues))
}
