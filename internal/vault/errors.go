package vault

import (
	"errors"

	"filevault-backend/internal/files"
)

var (
	// ErrQuotaExceeded means the upload would push the owner past their limit.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrForbidden means the record belongs to another owner.
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")

	ErrNotFound              = files.ErrNotFound
	ErrConflictingReferences = files.ErrConflictingReferences
)
