package hasher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func TestSumMatchesSHA256(t *testing.T) {
	data := bytes.Repeat([]byte("filevault"), 10000)
	want := sha256.Sum256(data)

	got, err := Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if got.Hex != hex.EncodeToString(want[:]) {
		t.Fatalf("digest mismatch: %s", got.Hex)
	}
	if got.Size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), got.Size)
	}
}

func TestSumEmpty(t *testing.T) {
	got, err := Sum(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if got.Hex != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" || got.Size != 0 {
		t.Fatalf("unexpected empty digest: %+v", got)
	}
}

func TestSumDiffersOnSingleByte(t *testing.T) {
	a, _ := Sum(strings.NewReader("hello world"))
	b, _ := Sum(strings.NewReader("hello worle"))
	if a.Hex == b.Hex {
		t.Fatalf("expected different digests")
	}
}

func TestSpoolWritesContentAndDigest(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{0xab}, 3*ChunkSize+17)

	sp, err := Spool(context.Background(), bytes.NewReader(data), dir)
	if err != nil {
		t.Fatalf("Spool: %v", err)
	}
	defer sp.Remove()

	want, _ := Sum(bytes.NewReader(data))
	if sp.Digest != want {
		t.Fatalf("expected %+v, got %+v", want, sp.Digest)
	}
	if sp.Size() != int64(len(data)) {
		t.Fatalf("unexpected size %d", sp.Size())
	}

	rc, err := sp.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read spool: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("spooled bytes differ")
	}

	if err := sp.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := sp.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	assertEmptyDir(t, dir)
}

type failingReader struct{ n int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n > 0 {
		f.n--
		return copy(p, "abc"), nil
	}
	return 0, errors.New("connection reset")
}

func TestSpoolRemovesFileOnReadError(t *testing.T) {
	dir := t.TempDir()
	_, err := Spool(context.Background(), &failingReader{n: 2}, dir)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected read error, got %v", err)
	}
	assertEmptyDir(t, dir)
}

func TestSpoolHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Spool(ctx, strings.NewReader("data"), dir)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	assertEmptyDir(t, dir)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no spool files, found %d", len(entries))
	}
}

func TestSumEqualityIffIdentical(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB}, 5*ChunkSize+17)
	bigFlipped := append([]byte(nil), big...)
	bigFlipped[3*ChunkSize] ^= 0xFF

	pairs := []struct {
		a, b  []byte
		equal bool
	}{
		{nil, []byte{}, true},
		{[]byte("a"), []byte("a"), true},
		{[]byte("a"), []byte("A"), false},
		{[]byte("abc"), []byte("abcd"), false},
		{big, append([]byte(nil), big...), true},
		{big, bigFlipped, false},
		{big, big[:len(big)-1], false},
	}
	for i, p := range pairs {
		da, err := Sum(bytes.NewReader(p.a))
		if err != nil {
			t.Fatalf("pair %d: %v", i, err)
		}
		db, err := Sum(bytes.NewReader(p.b))
		if err != nil {
			t.Fatalf("pair %d: %v", i, err)
		}
		if (da.Hex == db.Hex) != p.equal {
			t.Fatalf("pair %d: expected equal=%v, got %s vs %s", i, p.equal, da.Hex, db.Hex)
		}
	}
}
