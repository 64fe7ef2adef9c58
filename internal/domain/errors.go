package domain

import "errors"

var (
	// ErrNotFound marks a job or result that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps store failures other than a missing row.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidInput rejects caller-supplied values.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a status change would leave a
	// completed or failed job.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrProviderFailure wraps errors from the vision provider.
	ErrProviderFailure = errors.New("provider failure")
)
