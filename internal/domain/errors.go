package domain

import "errors"

var (
	// ErrValidation indicates malformed input rejected by a constructor or mutation.
	ErrValidation = errors.New("order: validation failed")
	// ErrInvalidTransition indicates a status change outside the lifecycle table.
	ErrInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotMutable indicates the current status forbids the requested mutation.
	ErrOrderNotMutable = errors.New("order: not mutable in current status")
)
