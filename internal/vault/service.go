package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"filevault-backend/internal/files"
	"filevault-backend/internal/hasher"
	"filevault-backend/internal/quota"
	"filevault-backend/internal/shared/metrics"
	"filevault-backend/internal/shared/storage/blob"
	"filevault-backend/internal/shared/telemetry"
)

// maxDecisions bounds how often an upload re-runs the owner/duplicate decision
// after losing a race with a concurrent delete.
const maxDecisions = 2

// errRedecide signals that the owner seen by the decision vanished.
var errRedecide = errors.New("owner changed during upload")

// Service orchestrates deduplicated uploads, deletes and stats.
type Service struct {
	Files    files.Repo
	Blobs    blob.Store
	Quota    *quota.Service
	SpoolDir string
	// ChargeDuplicates charges a duplicate's size to the uploader's quota.
	ChargeDuplicates bool
}

// Upload hashes the body once, then either records a duplicate of the
// owner's existing content or stores new content under a fresh reservation.
func (s *Service) Upload(ctx context.Context, in UploadInput) (UploadResult, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return UploadResult{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if in.Body == nil {
		return UploadResult{}, fmt.Errorf("%w: no file provided", ErrInvalidInput)
	}
	in.Filename = strings.TrimSpace(in.Filename)
	if in.Filename == "" {
		return UploadResult{}, fmt.Errorf("%w: filename is required", ErrInvalidInput)
	}

	start := time.Now()
	spooled, err := hasher.Spool(ctx, in.Body, s.SpoolDir)
	if err != nil {
		metrics.IncUpload(metrics.OutcomeFailed)
		return UploadResult{}, err
	}
	defer func() {
		if err := spooled.Remove(); err != nil {
			telemetry.Warn("upload.spool_cleanup_failed", map[string]any{"error": err})
		}
	}()

	if in.Size >= 0 && in.Size != spooled.Size() {
		telemetry.Warn("upload.size_mismatch", map[string]any{
			"user_id":  in.OwnerID,
			"declared": in.Size,
			"actual":   spooled.Size(),
		})
	}

	res, err := s.decide(ctx, in, spooled)
	metrics.ObserveUploadDuration(time.Since(start))
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			metrics.IncUpload(metrics.OutcomeRejected)
		} else {
			metrics.IncUpload(metrics.OutcomeFailed)
		}
		return res, err
	}

	fields := map[string]any{
		"user_id": in.OwnerID,
		"file_id": res.File.ID,
		"digest":  res.File.Digest,
		"size":    res.File.Size,
		"charged": res.File.QuotaCharged,
	}
	if res.Outcome == OutcomeDuplicate {
		metrics.IncUpload(metrics.OutcomeDuplicate)
		metrics.AddDeduplicatedBytes(res.File.Size)
		fields["original_id"] = res.File.OriginalRef
		telemetry.Info("upload.duplicate", fields)
	} else {
		metrics.IncUpload(metrics.OutcomeCreated)
		metrics.AddStoredBytes(res.File.Size)
		telemetry.Info("upload.created", fields)
	}
	return res, nil
}

func (s *Service) decide(ctx context.Context, in UploadInput, sp *hasher.Spooled) (UploadResult, error) {
	for attempt := 0; attempt < maxDecisions; attempt++ {
		owner, err := s.Files.FindOwner(ctx, in.OwnerID, sp.Digest.Hex)
		var res UploadResult
		switch {
		case err == nil:
			res, err = s.createDuplicate(ctx, in, sp, owner, nil)
		case errors.Is(err, files.ErrNotFound):
			res, err = s.createOriginal(ctx, in, sp)
		default:
			return UploadResult{}, fmt.Errorf("find owner: %w", err)
		}
		if errors.Is(err, errRedecide) {
			telemetry.Warn("upload.redecide", map[string]any{"user_id": in.OwnerID, "digest": sp.Digest.Hex, "attempt": attempt + 1})
			continue
		}
		return res, err
	}
	return UploadResult{}, fmt.Errorf("upload did not settle after %d attempts", maxDecisions)
}

func (s *Service) createOriginal(ctx context.Context, in UploadInput, sp *hasher.Spooled) (UploadResult, error) {
	size := sp.Size()
	profile, ok, err := s.Quota.TryReserve(ctx, in.OwnerID, size)
	if err != nil {
		return UploadResult{}, fmt.Errorf("reserve quota: %w", err)
	}
	if !ok {
		return UploadResult{Profile: profile}, ErrQuotaExceeded
	}

	record := files.File{
		OwnerID:          in.OwnerID,
		OriginalFilename: in.Filename,
		ContentType:      in.ContentType,
		Size:             size,
		Digest:           sp.Digest.Hex,
		QuotaCharged:     true,
	}
	persisted := false
	created, err := s.Files.Create(ctx, record, func(ctx context.Context) error {
		rc, err := sp.Open()
		if err != nil {
			return fmt.Errorf("open spool: %w", err)
		}
		defer rc.Close()
		if _, err := s.Blobs.Put(ctx, sp.Digest.Hex, rc); err != nil {
			return fmt.Errorf("store blob: %w", err)
		}
		persisted = true
		return nil
	})
	if err == nil {
		return UploadResult{Outcome: OutcomeCreated, File: created, Profile: profile}, nil
	}

	if errors.Is(err, files.ErrOwnerExists) {
		// Another upload of the same content won; become its duplicate and
		// keep the reservation already taken.
		owner, findErr := s.Files.FindOwner(ctx, in.OwnerID, sp.Digest.Hex)
		if findErr != nil {
			s.release(ctx, in.OwnerID, size)
			if errors.Is(findErr, files.ErrNotFound) {
				return UploadResult{}, errRedecide
			}
			return UploadResult{}, fmt.Errorf("find owner: %w", findErr)
		}
		return s.createDuplicate(ctx, in, sp, owner, &profile)
	}

	s.release(ctx, in.OwnerID, size)
	if persisted {
		telemetry.Warn("upload.blob_unreferenced", map[string]any{"user_id": in.OwnerID, "digest": sp.Digest.Hex, "error": err})
	}
	return UploadResult{}, fmt.Errorf("create file: %w", err)
}

// createDuplicate records a duplicate of owner. reserved carries a
// reservation for this upload's size that is already held.
func (s *Service) createDuplicate(ctx context.Context, in UploadInput, sp *hasher.Spooled, owner files.File, reserved *quota.Profile) (UploadResult, error) {
	size := sp.Size()
	var profile quota.Profile
	var err error
	switch {
	case reserved != nil && s.ChargeDuplicates:
		profile = *reserved
	case reserved != nil:
		profile, err = s.Quota.Release(context.WithoutCancel(ctx), in.OwnerID, size)
	case s.ChargeDuplicates:
		var ok bool
		profile, ok, err = s.Quota.TryReserve(ctx, in.OwnerID, size)
		if err == nil && !ok {
			return UploadResult{Profile: profile}, ErrQuotaExceeded
		}
	default:
		profile, err = s.Quota.GetOrInit(ctx, in.OwnerID)
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("reserve quota: %w", err)
	}

	record := files.File{
		OwnerID:          in.OwnerID,
		OriginalFilename: in.Filename,
		ContentType:      in.ContentType,
		Size:             size,
		Digest:           sp.Digest.Hex,
		IsDuplicate:      true,
		OriginalRef:      owner.ID,
		QuotaCharged:     s.ChargeDuplicates,
	}
	created, err := s.Files.Create(ctx, record, nil)
	if err != nil {
		if s.ChargeDuplicates {
			s.release(ctx, in.OwnerID, size)
		}
		if errors.Is(err, files.ErrInvalidReference) {
			return UploadResult{}, errRedecide
		}
		return UploadResult{}, fmt.Errorf("create duplicate: %w", err)
	}
	return UploadResult{Outcome: OutcomeDuplicate, File: created, Original: &owner, Profile: profile}, nil
}

// release credits size back even when ctx is already cancelled.
func (s *Service) release(ctx context.Context, ownerID string, size int64) {
	if _, err := s.Quota.Release(context.WithoutCancel(ctx), ownerID, size); err != nil {
		telemetry.Error("quota.release_failed", map[string]any{"user_id": ownerID, "size": size, "error": err})
		return
	}
	metrics.AddQuotaReleased(size)
}

// Get returns one of the owner's records.
func (s *Service) Get(ctx context.Context, ownerID, fileID string) (files.File, error) {
	f, err := s.Files.Get(ctx, fileID)
	if err != nil {
		return files.File{}, err
	}
	if f.OwnerID != ownerID {
		return files.File{}, ErrForbidden
	}
	return f, nil
}

// Open returns the record and a reader over its content. Duplicates stream the
// shared blob.
func (s *Service) Open(ctx context.Context, ownerID, fileID string) (files.File, io.ReadCloser, error) {
	f, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		return files.File{}, nil, err
	}
	rc, err := s.Blobs.Open(ctx, f.Digest)
	if err != nil {
		return files.File{}, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, rc, nil
}

// Delete removes one of the owner's records, reclaims the blob when nothing
// references it any more and credits the charged size back.
func (s *Service) Delete(ctx context.Context, ownerID, fileID string) (files.File, error) {
	f, err := s.Get(ctx, ownerID, fileID)
	if err != nil {
		metrics.IncDelete(deleteOutcome(err))
		return files.File{}, err
	}

	deleted, err := s.Files.Delete(ctx, f.ID, func(ctx context.Context, digest string) error {
		if err := s.Blobs.Delete(ctx, digest); err != nil {
			return fmt.Errorf("reclaim blob: %w", err)
		}
		metrics.IncBlobReclaimed()
		telemetry.Info("blob.reclaimed", map[string]any{"digest": digest})
		return nil
	})
	if err != nil {
		metrics.IncDelete(deleteOutcome(err))
		return files.File{}, err
	}

	if deleted.QuotaCharged {
		s.release(ctx, ownerID, deleted.Size)
	}
	metrics.IncDelete("deleted")
	telemetry.Info("file.deleted", map[string]any{
		"user_id":      ownerID,
		"file_id":      deleted.ID,
		"is_duplicate": deleted.IsDuplicate,
		"size":         deleted.Size,
	})
	return deleted, nil
}

func deleteOutcome(err error) string {
	switch {
	case errors.Is(err, files.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, files.ErrConflictingReferences):
		return "conflicting_references"
	default:
		return "failed"
	}
}

// List returns the owner's records matching filters, newest first.
func (s *Service) List(ctx context.Context, ownerID string, filters files.Filters) ([]files.File, error) {
	return s.Files.List(ctx, ownerID, filters)
}

// ContentTypes returns the distinct content types the owner has uploaded.
func (s *Service) ContentTypes(ctx context.Context, ownerID string) ([]string, error) {
	return s.Files.ContentTypes(ctx, ownerID)
}

// Stats reports deduplication savings alongside the quota ledger.
func (s *Service) Stats(ctx context.Context, ownerID string) (Stats, error) {
	sum, err := s.Files.Summary(ctx, ownerID)
	if err != nil {
		return Stats{}, fmt.Errorf("summarize files: %w", err)
	}
	profile, err := s.Quota.GetOrInit(ctx, ownerID)
	if err != nil {
		return Stats{}, fmt.Errorf("load quota: %w", err)
	}

	savings := sum.LogicalBytes - sum.PhysicalBytes
	pct := 0.0
	if sum.LogicalBytes > 0 {
		pct = math.Round(float64(savings)/float64(sum.LogicalBytes)*100*100) / 100
	}
	return Stats{
		OwnerID:           ownerID,
		OriginalBytes:     sum.LogicalBytes,
		ActualBytes:       sum.PhysicalBytes,
		SavingsBytes:      savings,
		SavingsPercentage: pct,
		LimitBytes:        profile.StorageLimitBytes,
		LogicalUsed:       profile.LogicalUsed,
		UsagePercentage:   profile.UsagePercent(),
		Records:           sum.Records,
		DistinctContents:  sum.DistinctDigests,
	}, nil
}
