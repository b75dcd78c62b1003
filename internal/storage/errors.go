package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrResourceExhausted is returned when the backend rejects work due to
	// connection or pool pressure. Callers may retry with backoff.
	ErrResourceExhausted = errors.New("resource exhausted")
)
