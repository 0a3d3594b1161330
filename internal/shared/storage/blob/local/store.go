package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"filevault-backend/internal/shared/storage/blob"
)

const zstdSuffix = ".zst"

// Store implements blob.Store on the local filesystem. Blobs live at
// <baseDir>/sha256/ab/cd/<digest>, with a .zst suffix when compressed.
type Store struct {
	baseDir  string
	tmpDir   string
	compress bool
}

// New creates a local blob store rooted at baseDir. When compress is set new
// blobs are written zstd-compressed; existing blobs are read in either form.
func New(baseDir string, compress bool) (*Store, error) {
	if baseDir == "" {
		return nil, errors.New("blob dir is required")
	}
	tmpDir := filepath.Join(baseDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &Store{baseDir: baseDir, tmpDir: tmpDir, compress: compress}, nil
}

// Put writes r to a temp file and renames it into place. Concurrent writers of
// the same digest all succeed; the last rename wins with identical content.
func (s *Store) Put(ctx context.Context, digest string, r io.Reader) (string, error) {
	if err := blob.ValidateDigest(digest); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if existing, ok := s.find(digest); ok {
		return existing, nil
	}

	target := s.path(digest)
	if s.compress {
		target += zstdSuffix
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(s.tmpDir, digest+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if err := s.writeBody(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		cleanup()
		if existing, ok := s.find(digest); ok {
			return existing, nil
		}
		return "", fmt.Errorf("rename: %w", err)
	}
	return s.location(target), nil
}

func (s *Store) writeBody(w io.Writer, r io.Reader) error {
	if !s.compress {
		if _, err := io.Copy(w, r); err != nil {
			return fmt.Errorf("write body: %w", err)
		}
		return nil
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return fmt.Errorf("write body: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("zstd flush: %w", err)
	}
	return nil
}

// Open opens a stored blob for reading, decompressing when needed.
func (s *Store) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	if err := blob.ValidateDigest(digest); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plain := s.path(digest)
	f, err := os.Open(plain)
	if err == nil {
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	f, err = os.Open(plain + zstdSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, blob.ErrNotFound
		}
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdReadCloser{dec: dec, f: f}, nil
}

// Delete removes the blob in whichever form it was stored.
func (s *Store) Delete(ctx context.Context, digest string) error {
	if err := blob.ValidateDigest(digest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	plain := s.path(digest)
	for _, p := range []string{plain, plain + zstdSuffix} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove: %w", err)
		}
	}
	return nil
}

// Exists reports whether a blob is stored for digest.
func (s *Store) Exists(ctx context.Context, digest string) (bool, error) {
	if err := blob.ValidateDigest(digest); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := s.find(digest)
	return ok, nil
}

func (s *Store) find(digest string) (string, bool) {
	plain := s.path(digest)
	for _, p := range []string{plain, plain + zstdSuffix} {
		if _, err := os.Stat(p); err == nil {
			return s.location(p), true
		}
	}
	return "", false
}

func (s *Store) path(digest string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(blob.Key(digest)))
}

func (s *Store) location(p string) string {
	rel, err := filepath.Rel(s.baseDir, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

var _ blob.Store = (*Store)(nil)
