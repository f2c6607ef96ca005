package domain

import "errors"

var (
	// ErrNotFound indicates the record does not exist in the store.
	ErrNotFound = errors.New("notification not found")
	// ErrConflict indicates a conditional write matched no rows, typically a
	// lost claim race.
	ErrConflict = errors.New("notification state conflict")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation error")
)
