package quota

import (
	"context"
	"database/sql"
	"errors"
)

type pgStore struct {
	DB           *sql.DB
	defaultLimit int64
}

// NewPGStore constructs a Postgres-backed quota store. A non-positive
// defaultLimit means DefaultLimitBytes.
func NewPGStore(db *sql.DB, defaultLimit int64) *pgStore {
	return &pgStore{DB: db, defaultLimit: normalizeLimit(defaultLimit)}
}

const profileColumns = `owner_id, storage_limit_bytes, logical_used, updated_at`

func scanProfile(row *sql.Row) (Profile, error) {
	var p Profile
	if err := row.Scan(&p.OwnerID, &p.StorageLimitBytes, &p.LogicalUsed, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *pgStore) GetOrInit(ctx context.Context, ownerID string) (Profile, error) {
	if err := s.ensure(ctx, ownerID); err != nil {
		return Profile{}, err
	}
	return s.get(ctx, ownerID)
}

// TryReserve relies on a single conditional UPDATE: the row lock serialises
// callers for one owner and different owners never contend.
func (s *pgStore) TryReserve(ctx context.Context, ownerID string, size int64) (Profile, bool, error) {
	if err := s.ensure(ctx, ownerID); err != nil {
		return Profile{}, false, err
	}
	p, err := scanProfile(s.DB.QueryRowContext(ctx, `
UPDATE storage_profiles
SET logical_used = logical_used + $2, updated_at = now()
WHERE owner_id = $1 AND logical_used + $2 <= storage_limit_bytes
RETURNING `+profileColumns, ownerID, size))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.get(ctx, ownerID)
			return current, false, getErr
		}
		return Profile{}, false, err
	}
	return p, true, nil
}

func (s *pgStore) Release(ctx context.Context, ownerID string, size int64) (Profile, error) {
	if err := s.ensure(ctx, ownerID); err != nil {
		return Profile{}, err
	}
	return scanProfile(s.DB.QueryRowContext(ctx, `
UPDATE storage_profiles
SET logical_used = GREATEST(logical_used - $2, 0), updated_at = now()
WHERE owner_id = $1
RETURNING `+profileColumns, ownerID, size))
}

func (s *pgStore) SetLimit(ctx context.Context, ownerID string, limit int64) (Profile, error) {
	return scanProfile(s.DB.QueryRowContext(ctx, `
INSERT INTO storage_profiles (owner_id, storage_limit_bytes, logical_used, updated_at)
VALUES ($1, $2, 0, now())
ON CONFLICT (owner_id) DO UPDATE SET storage_limit_bytes = EXCLUDED.storage_limit_bytes, updated_at = now()
RETURNING `+profileColumns, ownerID, limit))
}

func (s *pgStore) ensure(ctx context.Context, ownerID string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO storage_profiles (owner_id, storage_limit_bytes, logical_used, updated_at)
VALUES ($1, $2, 0, now())
ON CONFLICT (owner_id) DO NOTHING`, ownerID, s.defaultLimit)
	return err
}

func (s *pgStore) get(ctx context.Context, ownerID string) (Profile, error) {
	return scanProfile(s.DB.QueryRowContext(ctx, `
SELECT `+profileColumns+` FROM storage_profiles WHERE owner_id = $1`, ownerID))
}
