package quota

import (
	"context"
	"strings"
)

type store interface {
	GetOrInit(ctx context.Context, ownerID string) (Profile, error)
	TryReserve(ctx context.Context, ownerID string, size int64) (Profile, bool, error)
	Release(ctx context.Context, ownerID string, size int64) (Profile, error)
	SetLimit(ctx context.Context, ownerID string, limit int64) (Profile, error)
}

// Service manages per-user storage ledgers via an underlying store.
type Service struct {
	store store
}

// NewService constructs a Service with an in-memory store. A non-positive
// defaultLimit means DefaultLimitBytes.
func NewService(defaultLimit int64) *Service {
	return &Service{store: newMemoryStore(normalizeLimit(defaultLimit))}
}

// NewPostgresService constructs a Service backed by Postgres.
func NewPostgresService(pgStore store) *Service {
	return &Service{store: pgStore}
}

// GetOrInit returns the owner's profile, creating it with the default limit.
func (s *Service) GetOrInit(ctx context.Context, ownerID string) (Profile, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Profile{}, ErrInvalidOwner
	}
	return s.store.GetOrInit(ctx, ownerID)
}

// TryReserve atomically adds size to the owner's usage if it stays within the
// limit. It returns the resulting profile and whether the reservation was made;
// a rejected reservation leaves the ledger unchanged.
func (s *Service) TryReserve(ctx context.Context, ownerID string, size int64) (Profile, bool, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Profile{}, false, ErrInvalidOwner
	}
	if size < 0 {
		return Profile{}, false, ErrInvalidAmount
	}
	if size == 0 {
		p, err := s.store.GetOrInit(ctx, ownerID)
		return p, err == nil, err
	}
	return s.store.TryReserve(ctx, ownerID, size)
}

// Release subtracts size from the owner's usage, flooring at zero.
func (s *Service) Release(ctx context.Context, ownerID string, size int64) (Profile, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Profile{}, ErrInvalidOwner
	}
	if size < 0 {
		return Profile{}, ErrInvalidAmount
	}
	if size == 0 {
		return s.store.GetOrInit(ctx, ownerID)
	}
	return s.store.Release(ctx, ownerID, size)
}

// SetLimit changes the owner's storage limit. Lowering it below current usage
// is allowed; later reservations are rejected until usage drops.
func (s *Service) SetLimit(ctx context.Context, ownerID string, limit int64) (Profile, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Profile{}, ErrInvalidOwner
	}
	if limit < 0 {
		return Profile{}, ErrInvalidAmount
	}
	return s.store.SetLimit(ctx, ownerID, limit)
}

func normalizeLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultLimitBytes
	}
	return limit
}
