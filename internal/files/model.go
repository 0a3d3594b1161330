package files

import "time"

// File is one upload as seen by its owner. Duplicates point at the owning
// record for the same (owner, digest) and share its blob.
type File struct {
	ID               string
	OwnerID          string
	OriginalFilename string
	ContentType      string
	Size             int64
	Digest           string
	UploadedAt       time.Time
	IsDuplicate      bool
	OriginalRef      string
	// QuotaCharged records whether Size was charged to the owner's ledger.
	QuotaCharged bool
}

// Summary aggregates one owner's records.
type Summary struct {
	Records         int
	DistinctDigests int
	// LogicalBytes is the sum of sizes over all records.
	LogicalBytes int64
	// PhysicalBytes counts each distinct digest once.
	PhysicalBytes int64
}
