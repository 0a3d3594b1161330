// Package blob stores file content addressed by its SHA-256 digest.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound is returned when no blob exists for a digest.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidDigest is returned for anything that is not 64 lowercase hex characters.
	ErrInvalidDigest = errors.New("invalid digest")
)

// Store persists content by digest. Implementations never look at file records.
type Store interface {
	// Put stores r under digest and returns its location. If the blob already
	// exists the existing location is returned and r is not stored again.
	Put(ctx context.Context, digest string, r io.Reader) (string, error)
	// Open returns the content for digest or ErrNotFound.
	Open(ctx context.Context, digest string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing blob succeeds.
	Delete(ctx context.Context, digest string) error
	Exists(ctx context.Context, digest string) (bool, error)
}

// ValidateDigest rejects anything but a lowercase hex SHA-256 digest.
func ValidateDigest(digest string) error {
	if len(digest) != 64 {
		return ErrInvalidDigest
	}
	for i := 0; i < len(digest); i++ {
		c := digest[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return ErrInvalidDigest
		}
	}
	return nil
}

// Key returns the slash-separated storage key for digest: sha256/ab/cd/<digest>.
func Key(digest string) string {
	return "sha256/" + digest[0:2] + "/" + digest[2:4] + "/" + digest
}
