package quota

import (
	"math"
	"time"
)

// DefaultLimitBytes is the storage limit given to new profiles (10 MiB).
const DefaultLimitBytes int64 = 10 << 20

// Profile is a user's storage ledger entry.
type Profile struct {
	OwnerID           string    `json:"user_id"`
	StorageLimitBytes int64     `json:"storage_limit"`
	LogicalUsed       int64     `json:"logical_used"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Available returns the bytes left before the limit; never negative.
func (p Profile) Available() int64 {
	if p.LogicalUsed >= p.StorageLimitBytes {
		return 0
	}
	return p.StorageLimitBytes - p.LogicalUsed
}

// UsagePercent returns LogicalUsed as a percentage of the limit, rounded to
// two decimals.
func (p Profile) UsagePercent() float64 {
	if p.StorageLimitBytes <= 0 {
		if p.LogicalUsed > 0 {
			return 100
		}
		return 0
	}
	pct := float64(p.LogicalUsed) / float64(p.StorageLimitBytes) * 100
	return math.Round(pct*100) / 100
}

func newProfile(ownerID string, limit int64) Profile {
	return Profile{
		OwnerID:           ownerID,
		StorageLimitBytes: limit,
		UpdatedAt:         time.Now().UTC(),
	}
}
