package document

import "errors"

var (
	// ErrValidation is returned for malformed filter, update or stage shapes
	ErrValidation = errors.New("validation error")

	// ErrTypeMismatch is returned when an operator meets an incompatible value kind
	ErrTypeMismatch = errors.New("type mismatch")
)
