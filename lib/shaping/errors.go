package shaping

import "errors"

var (
	// ErrInvalidSelection is returned when a preset name is not in the preset table.
	ErrInvalidSelection = errors.New("unknown preset")

	// ErrInvalidValue is returned when a numeric value is malformed or out of range.
	ErrInvalidValue = errors.New("invalid value")
)
