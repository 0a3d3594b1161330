package files

import "errors"

var (
	ErrNotFound = errors.New("file not found")
	// ErrOwnerExists means another owning record for the same owner and digest
	// won a concurrent insert.
	ErrOwnerExists = errors.New("owning record already exists")
	// ErrConflictingReferences means an owning record still has duplicates.
	ErrConflictingReferences = errors.New("file is referenced by duplicates")
	// ErrInvalidReference means a duplicate's original_ref is not an owning
	// record of the same owner and digest.
	ErrInvalidReference = errors.New("invalid original reference")
	ErrInvalidInput     = errors.New("invalid file record")
)
