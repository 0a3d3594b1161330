package vault

import (
	"time"

	"filevault-backend/internal/files"
)

// FileResponse is the outward-facing representation of a file record.
type FileResponse struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	Size             int64     `json:"size"`
	FileHash         string    `json:"file_hash"`
	UploadedAt       time.Time `json:"uploaded_at"`
	IsDuplicate      bool      `json:"is_duplicate"`
	OriginalFile     string    `json:"original_file,omitempty"`
	DownloadURL      string    `json:"download_url"`
}

func toFileResponse(f files.File) FileResponse {
	return FileResponse{
		ID:               f.ID,
		OriginalFilename: f.OriginalFilename,
		FileType:         f.ContentType,
		Size:             f.Size,
		FileHash:         f.Digest,
		UploadedAt:       f.UploadedAt,
		IsDuplicate:      f.IsDuplicate,
		OriginalFile:     f.OriginalRef,
		DownloadURL:      "/api/v1/files/" + f.ID + "/download",
	}
}

// DuplicateResponse is returned with 200 when the upload matched existing content.
type DuplicateResponse struct {
	FileResponse
	Warning      string       `json:"warning"`
	ExistingFile FileResponse `json:"existing_file"`
}

type listResponse struct {
	Files []FileResponse `json:"files"`
	Count int            `json:"count"`
}

type fileTypesResponse struct {
	FileTypes []string `json:"file_types"`
}

// StatsResponse is the storage_stats payload.
type StatsResponse struct {
	UserID              string  `json:"user_id"`
	TotalStorageUsed    int64   `json:"total_storage_used"`
	OriginalStorageUsed int64   `json:"original_storage_used"`
	StorageSavings      int64   `json:"storage_savings"`
	SavingsPercentage   float64 `json:"savings_percentage"`
	StorageLimit        int64   `json:"storage_limit"`
	LogicalUsed         int64   `json:"logical_used"`
	UsagePercentage     float64 `json:"usage_percentage"`
}

func toStatsResponse(s Stats) StatsResponse {
	return StatsResponse{
		UserID:              s.OwnerID,
		TotalStorageUsed:    s.ActualBytes,
		OriginalStorageUsed: s.OriginalBytes,
		StorageSavings:      s.SavingsBytes,
		SavingsPercentage:   s.SavingsPercentage,
		StorageLimit:        s.LimitBytes,
		LogicalUsed:         s.LogicalUsed,
		UsagePercentage:     s.UsagePercentage,
	}
}
