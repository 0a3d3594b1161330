package files

import (
	"context"
	"fmt"
	"strings"
)

// Repo persists file records and enforces the single-owner-per-digest rule.
type Repo interface {
	// FindOwner returns the owning record for (ownerID, digest) or ErrNotFound.
	FindOwner(ctx context.Context, ownerID, digest string) (File, error)
	// Create inserts f, assigning ID and UploadedAt when empty. For owning
	// records persist runs under the digest lock before the insert commits;
	// a persist error aborts the insert.
	Create(ctx context.Context, f File, persist func(ctx context.Context) error) (File, error)
	Get(ctx context.Context, id string) (File, error)
	// CountReferences counts records with digest across all owners.
	CountReferences(ctx context.Context, digest string) (int, error)
	// CountDuplicates counts duplicates whose original_ref is id.
	CountDuplicates(ctx context.Context, id string) (int, error)
	// Delete removes the record. When it was the last reference to its digest
	// reclaim runs before the delete commits; a reclaim error undoes the delete.
	Delete(ctx context.Context, id string, reclaim func(ctx context.Context, digest string) error) (File, error)
	// List returns ownerID's records matching filters, newest first.
	List(ctx context.Context, ownerID string, filters Filters) ([]File, error)
	Summary(ctx context.Context, ownerID string) (Summary, error)
	// ContentTypes returns the distinct non-empty content types, sorted.
	ContentTypes(ctx context.Context, ownerID string) ([]string, error)
}

func validate(f File) error {
	switch {
	case strings.TrimSpace(f.OwnerID) == "":
		return fmt.Errorf("%w: owner is required", ErrInvalidInput)
	case strings.TrimSpace(f.Digest) == "":
		return fmt.Errorf("%w: digest is required", ErrInvalidInput)
	case f.Size < 0:
		return fmt.Errorf("%w: negative size", ErrInvalidInput)
	case f.IsDuplicate && f.OriginalRef == "":
		return fmt.Errorf("%w: duplicate without original_ref", ErrInvalidReference)
	case !f.IsDuplicate && f.OriginalRef != "":
		return fmt.Errorf("%w: owning record with original_ref", ErrInvalidReference)
	}
	return nil
}
