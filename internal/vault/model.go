package vault

import (
	"io"

	"filevault-backend/internal/files"
	"filevault-backend/internal/quota"
)

// Outcome tells the caller whether new content was stored.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeDuplicate Outcome = "duplicate"
)

// UploadInput describes one incoming file. Size is advisory; a negative value
// means unknown. The spooled byte count is what gets recorded and charged.
type UploadInput struct {
	OwnerID     string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadResult is the outcome of Upload. Original is set for duplicates.
type UploadResult struct {
	Outcome  Outcome
	File     files.File
	Original *files.File
	Profile  quota.Profile
}

// Stats reports an owner's storage and deduplication savings.
type Stats struct {
	OwnerID string
	// OriginalBytes is what storage would be without deduplication.
	OriginalBytes int64
	// ActualBytes counts each distinct content once.
	ActualBytes       int64
	SavingsBytes      int64
	SavingsPercentage float64
	LimitBytes        int64
	LogicalUsed       int64
	UsagePercentage   float64
	Records           int
	DistinctContents  int
}
