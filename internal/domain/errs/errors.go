package errs

import "errors"

var (
	// ErrNotFound is returned when a resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput is returned when input data is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when no user key accompanies a request
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when a user touches another user's notification
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable is returned when an upstream collaborator cannot be reached
	ErrUnavailable = errors.New("upstream unavailable")
)
