package domain

import "errors"

// Domain errors. Specific errors wrap these so callers can classify them
// with errors.Is.
var (
	// ErrValidation marks a value rejected by a domain rule.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat marks stored data that could not be decoded.
	ErrInvalidFormat = errors.New("invalid format")
)
