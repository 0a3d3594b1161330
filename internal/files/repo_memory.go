package files

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repo. A single mutex is held across persist and
// reclaim callbacks, which serialises all writers.
type MemoryRepo struct {
	mu      sync.Mutex
	seq     int64
	records map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	file File
	seq  int64
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		records: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (r *MemoryRepo) FindOwner(ctx context.Context, ownerID, digest string) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.ownerLocked(ownerID, digest); ok {
		return f, nil
	}
	return File{}, ErrNotFound
}

func (r *MemoryRepo) Create(ctx context.Context, f File, persist func(ctx context.Context) error) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	if err := validate(f); err != nil {
		return File{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if _, exists := r.records[f.ID]; exists {
		return File{}, fmt.Errorf("%w: id %s already exists", ErrInvalidInput, f.ID)
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = r.now().UTC()
	}

	if f.IsDuplicate {
		orig, ok := r.records[f.OriginalRef]
		if !ok || orig.file.IsDuplicate || orig.file.OwnerID != f.OwnerID || orig.file.Digest != f.Digest {
			return File{}, ErrInvalidReference
		}
	} else {
		if _, ok := r.ownerLocked(f.OwnerID, f.Digest); ok {
			return File{}, ErrOwnerExists
		}
		if persist != nil {
			if err := persist(ctx); err != nil {
				return File{}, err
			}
		}
	}

	r.seq++
	r.records[f.ID] = memEntry{file: f, seq: r.seq}
	return f, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.records[id]
	if !ok {
		return File{}, ErrNotFound
	}
	return e.file, nil
}

func (r *MemoryRepo) CountReferences(ctx context.Context, digest string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countDigestLocked(digest), nil
}

func (r *MemoryRepo) CountDuplicates(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countDuplicatesLocked(id), nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string, reclaim func(ctx context.Context, digest string) error) (File, error) {
	if err := ctx.Err(); err != nil {
		return File{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.records[id]
	if !ok {
		return File{}, ErrNotFound
	}
	if !e.file.IsDuplicate && r.countDuplicatesLocked(id) > 0 {
		return File{}, ErrConflictingReferences
	}

	delete(r.records, id)
	if reclaim != nil && r.countDigestLocked(e.file.Digest) == 0 {
		if err := reclaim(ctx, e.file.Digest); err != nil {
			r.records[id] = e
			return File{}, err
		}
	}
	return e.file, nil
}

func (r *MemoryRepo) List(ctx context.Context, ownerID string, filters Filters) ([]File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	matched := make([]memEntry, 0)
	for _, e := range r.records {
		if e.file.OwnerID == ownerID && filters.Match(e.file) {
			matched = append(matched, e)
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.file.UploadedAt.Equal(b.file.UploadedAt) {
			return a.file.UploadedAt.After(b.file.UploadedAt)
		}
		return a.seq > b.seq
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(matched) {
			return []File{}, nil
		}
		matched = matched[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(matched) {
		matched = matched[:filters.Limit]
	}

	out := make([]File, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.file)
	}
	return out, nil
}

func (r *MemoryRepo) Summary(ctx context.Context, ownerID string) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Summary
	physical := make(map[string]int64)
	for _, e := range r.records {
		if e.file.OwnerID != ownerID {
			continue
		}
		s.Records++
		s.LogicalBytes += e.file.Size
		if cur, ok := physical[e.file.Digest]; !ok || e.file.Size > cur {
			physical[e.file.Digest] = e.file.Size
		}
	}
	s.DistinctDigests = len(physical)
	for _, size := range physical {
		s.PhysicalBytes += size
	}
	return s, nil
}

func (r *MemoryRepo) ContentTypes(ctx context.Context, ownerID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	seen := make(map[string]struct{})
	for _, e := range r.records {
		if e.file.OwnerID == ownerID && e.file.ContentType != "" {
			seen[e.file.ContentType] = struct{}{}
		}
	}
	r.mu.Unlock()
	out := make([]string, 0, len(seen))
	for ct := range seen {
		out = append(out, ct)
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepo) ownerLocked(ownerID, digest string) (File, bool) {
	for _, e := range r.records {
		if !e.file.IsDuplicate && e.file.OwnerID == ownerID && e.file.Digest == digest {
			return e.file, true
		}
	}
	return File{}, false
}

func (r *MemoryRepo) countDigestLocked(digest string) int {
	n := 0
	for _, e := range r.records {
		if e.file.Digest == digest {
			n++
		}
	}
	return n
}

func (r *MemoryRepo) countDuplicatesLocked(id string) int {
	n := 0
	for _, e := range r.records {
		if e.file.IsDuplicate && e.file.OriginalRef == id {
			n++
		}
	}
	return n
}

var _ Repo = (*MemoryRepo)(nil)
