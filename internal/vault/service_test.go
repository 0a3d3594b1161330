package vault

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filevault-backend/internal/files"
	"filevault-backend/internal/hasher"
	"filevault-backend/internal/quota"
	"filevault-backend/internal/shared/storage/blob"
	"filevault-backend/internal/shared/storage/blob/local"
)

type fixture struct {
	svc      *Service
	repo     *files.MemoryRepo
	blobs    *local.Store
	spoolDir string
}

func newFixture(t *testing.T, limit int64, chargeDuplicates bool) *fixture {
	t.Helper()
	blobs, err := local.New(t.TempDir(), false)
	require.NoError(t, err)
	repo := files.NewMemoryRepo()
	spoolDir := t.TempDir()
	return &fixture{
		svc: &Service{
			Files:            repo,
			Blobs:            blobs,
			Quota:            quota.NewService(limit),
			SpoolDir:         spoolDir,
			ChargeDuplicates: chargeDuplicates,
		},
		repo:     repo,
		blobs:    blobs,
		spoolDir: spoolDir,
	}
}

func input(owner, name string, content []byte) UploadInput {
	return UploadInput{
		OwnerID:     owner,
		Filename:    name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Body:        bytes.NewReader(content),
	}
}

func digestOf(t *testing.T, content []byte) string {
	t.Helper()
	d, err := hasher.Sum(bytes.NewReader(content))
	require.NoError(t, err)
	return d.Hex
}

func TestUploadStoresNewContent(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	content := []byte("hello vault")

	res, err := fx.svc.Upload(ctx, input("u1", "a.txt", content))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.False(t, res.File.IsDuplicate)
	assert.Equal(t, digestOf(t, content), res.File.Digest)
	assert.Equal(t, int64(len(content)), res.File.Size)
	assert.Equal(t, int64(len(content)), res.Profile.LogicalUsed)

	ok, err := fx.blobs.Exists(ctx, res.File.Digest)
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := os.ReadDir(fx.spoolDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool file should be removed")
}

func TestUploadSameContentTwiceRecordsDuplicate(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	content := bytes.Repeat([]byte("x"), 600)

	first, err := fx.svc.Upload(ctx, input("u1", "first.txt", content))
	require.NoError(t, err)
	second, err := fx.svc.Upload(ctx, input("u1", "second.txt", content))
	require.NoError(t, err)

	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.True(t, second.File.IsDuplicate)
	assert.Equal(t, first.File.ID, second.File.OriginalRef)
	require.NotNil(t, second.Original)
	assert.Equal(t, first.File.ID, second.Original.ID)
	assert.Equal(t, int64(1200), second.Profile.LogicalUsed)

	refs, err := fx.repo.CountReferences(ctx, first.File.Digest)
	require.NoError(t, err)
	assert.Equal(t, 2, refs)
	ok, err := fx.blobs.Exists(ctx, first.File.Digest)
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := fx.svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1200), stats.OriginalBytes)
	assert.Equal(t, int64(600), stats.ActualBytes)
	assert.Equal(t, int64(600), stats.SavingsBytes)
	assert.Equal(t, 50.0, stats.SavingsPercentage)
	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 1, stats.DistinctContents)
}

func TestUploadDuplicateNotChargedWhenPolicyOff(t *testing.T) {
	fx := newFixture(t, 10<<20, false)
	ctx := context.Background()
	content := bytes.Repeat([]byte("y"), 600)

	_, err := fx.svc.Upload(ctx, input("u1", "a.txt", content))
	require.NoError(t, err)
	dup, err := fx.svc.Upload(ctx, input("u1", "b.txt", content))
	require.NoError(t, err)
	assert.False(t, dup.File.QuotaCharged)
	assert.Equal(t, int64(600), dup.Profile.LogicalUsed)

	_, err = fx.svc.Delete(ctx, "u1", dup.File.ID)
	require.NoError(t, err)
	p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), p.LogicalUsed)
}

func TestUploadRejectedOverQuota(t *testing.T) {
	fx := newFixture(t, 1000, true)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, input("u1", "a.bin", bytes.Repeat([]byte("a"), 600)))
	require.NoError(t, err)

	res, err := fx.svc.Upload(ctx, input("u1", "b.bin", bytes.Repeat([]byte("b"), 600)))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, int64(1000), res.Profile.StorageLimitBytes)
	assert.Equal(t, int64(600), res.Profile.LogicalUsed)

	list, err := fx.svc.List(ctx, "u1", files.Filters{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	entries, err := os.ReadDir(fx.spoolDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChargedDuplicateRejectedOverQuota(t *testing.T) {
	fx := newFixture(t, 1000, true)
	ctx := context.Background()
	content := bytes.Repeat([]byte("a"), 600)

	_, err := fx.svc.Upload(ctx, input("u1", "a.bin", content))
	require.NoError(t, err)
	_, err = fx.svc.Upload(ctx, input("u1", "again.bin", content))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), p.LogicalUsed)

	list, err := fx.svc.List(ctx, "u1", files.Filters{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestZeroByteUploadSucceedsAtFullQuota(t *testing.T) {
	fx := newFixture(t, 10, true)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, input("u1", "full.bin", bytes.Repeat([]byte("f"), 10)))
	require.NoError(t, err)
	res, err := fx.svc.Upload(ctx, input("u1", "empty.bin", nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, int64(0), res.File.Size)
}

func TestDeleteOwnerWithDuplicatesConflicts(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	content := []byte("shared content")

	orig, err := fx.svc.Upload(ctx, input("u1", "a.txt", content))
	require.NoError(t, err)
	dup, err := fx.svc.Upload(ctx, input("u1", "b.txt", content))
	require.NoError(t, err)

	_, err = fx.svc.Delete(ctx, "u1", orig.File.ID)
	require.ErrorIs(t, err, ErrConflictingReferences)

	_, err = fx.svc.Delete(ctx, "u1", dup.File.ID)
	require.NoError(t, err)
	refs, err := fx.repo.CountReferences(ctx, orig.File.Digest)
	require.NoError(t, err)
	assert.Equal(t, 1, refs)
	ok, err := fx.blobs.Exists(ctx, orig.File.Digest)
	require.NoError(t, err)
	assert.True(t, ok, "blob still referenced by the owner")

	_, err = fx.svc.Delete(ctx, "u1", orig.File.ID)
	require.NoError(t, err)
	ok, err = fx.blobs.Exists(ctx, orig.File.Digest)
	require.NoError(t, err)
	assert.False(t, ok, "last reference gone, blob reclaimed")

	p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.LogicalUsed)
}

func TestSameContentAcrossUsersSharesBlob(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	content := []byte("common attachment")

	a, err := fx.svc.Upload(ctx, input("u1", "a.txt", content))
	require.NoError(t, err)
	b, err := fx.svc.Upload(ctx, input("u2", "b.txt", content))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, a.Outcome)
	assert.Equal(t, OutcomeCreated, b.Outcome, "dedup is per user")

	_, err = fx.svc.Delete(ctx, "u1", a.File.ID)
	require.NoError(t, err)
	ok, err := fx.blobs.Exists(ctx, a.File.Digest)
	require.NoError(t, err)
	assert.True(t, ok, "u2 still references the blob")

	rc, err := fx.blobs.Open(ctx, b.File.Digest)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = fx.svc.Delete(ctx, "u2", b.File.ID)
	require.NoError(t, err)
	ok, err = fx.blobs.Exists(ctx, a.File.Digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOtherUsersRecordsAreForbidden(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()

	res, err := fx.svc.Upload(ctx, input("u1", "private.txt", []byte("mine")))
	require.NoError(t, err)

	_, err = fx.svc.Get(ctx, "u2", res.File.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = fx.svc.Open(ctx, "u2", res.File.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = fx.svc.Delete(ctx, "u2", res.File.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = fx.svc.Delete(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenDuplicateStreamsSharedContent(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	content := []byte("same bytes")

	_, err := fx.svc.Upload(ctx, input("u1", "a.txt", content))
	require.NoError(t, err)
	dup, err := fx.svc.Upload(ctx, input("u1", "b.txt", content))
	require.NoError(t, err)

	f, rc, err := fx.svc.Open(ctx, "u1", dup.File.ID)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "b.txt", f.OriginalFilename)
	assert.Equal(t, content, got)
}

func TestConcurrentUploadsOfSameContentKeepOneOwner(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	content := bytes.Repeat([]byte("z"), 4096)
	const workers = 8

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := fx.svc.Upload(ctx, input("u1", "same.bin", content))
			if err != nil {
				errs <- err
				return
			}
			outcomes <- res.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	created := 0
	for o := range outcomes {
		if o == OutcomeCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*len(content)), p.LogicalUsed)
}

func TestConcurrentUploadsNeverExceedQuota(t *testing.T) {
	fx := newFixture(t, 1000, true)
	ctx := context.Background()
	const workers = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := bytes.Repeat([]byte{byte('a' + i)}, 300)
			_, err := fx.svc.Upload(ctx, input("u1", "f.bin", content))
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrQuotaExceeded)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, accepted)
	p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(900), p.LogicalUsed)
}

// staleOwnerRepo misses the owner on the first lookup, as if a concurrent
// upload committed it right after.
type staleOwnerRepo struct {
	*files.MemoryRepo
	mu     sync.Mutex
	missed bool
}

func (r *staleOwnerRepo) FindOwner(ctx context.Context, ownerID, digest string) (files.File, error) {
	r.mu.Lock()
	miss := !r.missed
	r.missed = true
	r.mu.Unlock()
	if miss {
		return files.File{}, files.ErrNotFound
	}
	return r.MemoryRepo.FindOwner(ctx, ownerID, digest)
}

func TestLostOwnerRaceBecomesDuplicate(t *testing.T) {
	for _, charge := range []bool{true, false} {
		fx := newFixture(t, 10<<20, charge)
		ctx := context.Background()
		content := bytes.Repeat([]byte("r"), 100)

		orig, err := fx.svc.Upload(ctx, input("u1", "a.bin", content))
		require.NoError(t, err)
		fx.svc.Files = &staleOwnerRepo{MemoryRepo: fx.repo}

		res, err := fx.svc.Upload(ctx, input("u1", "b.bin", content))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
		assert.Equal(t, orig.File.ID, res.File.OriginalRef)
		assert.Equal(t, charge, res.File.QuotaCharged)

		want := int64(100)
		if charge {
			want = 200
		}
		p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, p.LogicalUsed, "charge=%v", charge)
	}
}

type failingBlobs struct {
	blob.Store
}

func (failingBlobs) Put(context.Context, string, io.Reader) (string, error) {
	return "", errors.New("disk full")
}

func TestFailedBlobWriteReleasesReservation(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()
	fx.svc.Blobs = failingBlobs{Store: fx.blobs}

	_, err := fx.svc.Upload(ctx, input("u1", "a.bin", []byte("payload")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	p, err := fx.svc.Quota.GetOrInit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.LogicalUsed)
	list, err := fx.svc.List(ctx, "u1", files.Filters{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCancelledUploadLeavesNothingBehind(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.svc.Upload(ctx, input("u1", "a.bin", []byte("never stored")))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(fx.spoolDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	p, err := fx.svc.Quota.GetOrInit(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.LogicalUsed)
}

func TestUploadValidatesInput(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()

	_, err := fx.svc.Upload(ctx, input(" ", "a.txt", []byte("x")))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = fx.svc.Upload(ctx, UploadInput{OwnerID: "u1", Filename: "a.txt"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = fx.svc.Upload(ctx, input("u1", "  ", []byte("x")))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeclaredSizeIsAdvisory(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	in := input("u1", "a.txt", []byte("12345"))
	in.Size = 999

	res, err := fx.svc.Upload(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.File.Size)
	assert.Equal(t, int64(5), res.Profile.LogicalUsed)
}

func TestListAndContentTypes(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()

	for _, tc := range []struct{ name, ct, body string }{
		{"report.pdf", "application/pdf", "pdf body"},
		{"notes.txt", "text/plain", "notes"},
		{"Report-final.pdf", "application/pdf", "final pdf"},
	} {
		in := input("u1", tc.name, []byte(tc.body))
		in.ContentType = tc.ct
		_, err := fx.svc.Upload(ctx, in)
		require.NoError(t, err)
	}

	list, err := fx.svc.List(ctx, "u1", files.Filters{Search: "report"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, f := range list {
		assert.True(t, strings.Contains(strings.ToLower(f.OriginalFilename), "report"))
	}

	types, err := fx.svc.ContentTypes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"application/pdf", "text/plain"}, types)

	empty, err := fx.svc.Stats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.SavingsPercentage)
}

func TestListSizeRangeNewestFirst(t *testing.T) {
	fx := newFixture(t, 10<<20, true)
	ctx := context.Background()

	var inRange []string
	for i, size := range []int{400, 500, 600, 700, 800} {
		res, err := fx.svc.Upload(ctx, input("u1", "f.bin", bytes.Repeat([]byte{byte('a' + i)}, size)))
		require.NoError(t, err)
		if size >= 500 && size <= 700 {
			inRange = append(inRange, res.File.ID)
		}
	}

	minSize, maxSize := int64(500), int64(700)
	list, err := fx.svc.List(ctx, "u1", files.Filters{MinSize: &minSize, MaxSize: &maxSize})
	require.NoError(t, err)
	got := make([]string, 0, len(list))
	for _, f := range list {
		got = append(got, f.ID)
	}
	assert.Equal(t, []string{inRange[2], inRange[1], inRange[0]}, got)
}
