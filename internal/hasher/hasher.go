// Package hasher computes content digests for uploaded files.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// ChunkSize is the buffer size used when streaming content through the hash.
const ChunkSize = 32 * 1024

// Digest identifies file content: lowercase hex SHA-256 plus the byte count.
type Digest struct {
	Hex  string
	Size int64
}

// Sum hashes r to EOF.
func Sum(r io.Reader) (Digest, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return Digest{}, fmt.Errorf("hash content: %w", err)
	}
	return digestOf(h, n), nil
}

// Spooled is content copied to a local temp file while being hashed.
type Spooled struct {
	Digest Digest
	path   string
}

// Size returns the number of bytes spooled.
func (s *Spooled) Size() int64 {
	return s.Digest.Size
}

// Open returns a reader over the spooled bytes.
func (s *Spooled) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// Remove deletes the spool file. It is safe to call more than once.
func (s *Spooled) Remove() error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Spool streams r into a temp file under dir while hashing it, so large uploads
// are bounded by disk rather than memory. On any failure, including ctx
// cancellation, the temp file is removed.
func Spool(ctx context.Context, r io.Reader, dir string) (*Spooled, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "upload-*.spool")
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	path := tmp.Name()

	h := sha256.New()
	buf := make([]byte, ChunkSize)
	n, copyErr := io.CopyBuffer(io.MultiWriter(tmp, h), ctxReader{ctx: ctx, r: r}, buf)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return nil, fmt.Errorf("spool content: %w", copyErr)
		}
		return nil, fmt.Errorf("close spool file: %w", closeErr)
	}

	return &Spooled{Digest: digestOf(h, n), path: path}, nil
}

func digestOf(h hash.Hash, n int64) Digest {
	return Digest{Hex: hex.EncodeToString(h.Sum(nil)), Size: n}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
