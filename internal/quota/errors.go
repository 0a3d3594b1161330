package quota

import "errors"

var (
	// ErrInvalidAmount indicates a negative size or limit.
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidOwner  = errors.New("owner is required")
)
