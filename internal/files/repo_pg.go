package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PGRepo implements Repo using Postgres. Writers touching the same digest
// serialise on a transaction-scoped advisory lock.
type PGRepo struct {
	DB *sql.DB
}

const fileColumns = `id, owner_id, original_filename, content_type, size_bytes, digest, is_duplicate, original_ref, quota_charged, uploaded_at`

const lockDigestSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (File, error) {
	var f File
	var originalRef sql.NullString
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.OriginalFilename,
		&f.ContentType,
		&f.Size,
		&f.Digest,
		&f.IsDuplicate,
		&originalRef,
		&f.QuotaCharged,
		&f.UploadedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, ErrNotFound
		}
		return File{}, err
	}
	if originalRef.Valid {
		f.OriginalRef = originalRef.String
	}
	f.UploadedAt = f.UploadedAt.UTC()
	return f, nil
}

func (r *PGRepo) FindOwner(ctx context.Context, ownerID, digest string) (File, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE owner_id = $1 AND digest = $2 AND NOT is_duplicate
LIMIT 1`, ownerID, digest)
	return scanFile(row)
}

func (r *PGRepo) Create(ctx context.Context, f File, persist func(ctx context.Context) error) (File, error) {
	if err := validate(f); err != nil {
		return File{}, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return File{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lockDigestSQL, f.Digest); err != nil {
		return File{}, err
	}

	if f.IsDuplicate {
		var ownerID, digest string
		var isDuplicate bool
		err := tx.QueryRowContext(ctx, `
SELECT owner_id, digest, is_duplicate FROM files WHERE id = $1 FOR SHARE`, f.OriginalRef).Scan(&ownerID, &digest, &isDuplicate)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return File{}, ErrInvalidReference
			}
			return File{}, err
		}
		if isDuplicate || ownerID != f.OwnerID || digest != f.Digest {
			return File{}, ErrInvalidReference
		}
	}

	var originalRef sql.NullString
	if f.OriginalRef != "" {
		originalRef = sql.NullString{String: f.OriginalRef, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO files (`+fileColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID,
		f.OwnerID,
		f.OriginalFilename,
		f.ContentType,
		f.Size,
		f.Digest,
		f.IsDuplicate,
		originalRef,
		f.QuotaCharged,
		f.UploadedAt,
	); err != nil {
		return File{}, mapPgError(err)
	}

	if !f.IsDuplicate && persist != nil {
		if err := persist(ctx); err != nil {
			return File{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return File{}, mapPgError(err)
	}
	return f, nil
}

func (r *PGRepo) Get(ctx context.Context, id string) (File, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE id = $1`, id)
	return scanFile(row)
}

func (r *PGRepo) CountReferences(ctx context.Context, digest string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE digest = $1`, digest).Scan(&n)
	return n, err
}

func (r *PGRepo) CountDuplicates(ctx context.Context, id string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE original_ref = $1`, id).Scan(&n)
	return n, err
}

func (r *PGRepo) Delete(ctx context.Context, id string, reclaim func(ctx context.Context, digest string) error) (File, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return File{}, err
	}
	defer tx.Rollback()

	var digest string
	if err := tx.QueryRowContext(ctx, `SELECT digest FROM files WHERE id = $1`, id).Scan(&digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return File{}, ErrNotFound
		}
		return File{}, err
	}
	if _, err := tx.ExecContext(ctx, lockDigestSQL, digest); err != nil {
		return File{}, err
	}

	f, err := scanFile(tx.QueryRowContext(ctx, `
SELECT `+fileColumns+`
FROM files
WHERE id = $1
FOR UPDATE`, id))
	if err != nil {
		return File{}, err
	}

	if !f.IsDuplicate {
		var dups int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE original_ref = $1`, id).Scan(&dups); err != nil {
			return File{}, err
		}
		if dups > 0 {
			return File{}, ErrConflictingReferences
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return File{}, mapPgError(err)
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE digest = $1`, f.Digest).Scan(&remaining); err != nil {
		return File{}, err
	}
	if remaining == 0 && reclaim != nil {
		if err := reclaim(ctx, f.Digest); err != nil {
			return File{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (r *PGRepo) List(ctx context.Context, ownerID string, filters Filters) ([]File, error) {
	query, args := buildListQuery(ownerID, filters)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func buildListQuery(ownerID string, filters Filters) (string, []any) {
	args := []any{ownerID}
	where := []string{"owner_id = $1"}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filters.Search != "" {
		add("original_filename ILIKE $%d", "%"+escapeLike(filters.Search)+"%")
	}
	if filters.ContentType != "" {
		add("content_type ILIKE $%d", "%"+escapeLike(filters.ContentType)+"%")
	}
	if filters.MinSize != nil {
		add("size_bytes >= $%d", *filters.MinSize)
	}
	if filters.MaxSize != nil {
		add("size_bytes <= $%d", *filters.MaxSize)
	}
	if filters.UploadedAfter != nil {
		add("uploaded_at >= $%d", *filters.UploadedAfter)
	}
	if filters.UploadedBefore != nil {
		add("uploaded_at <= $%d", *filters.UploadedBefore)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + fileColumns + " FROM files WHERE ")
	sb.WriteString(strings.Join(where, " AND "))
	sb.WriteString(" ORDER BY uploaded_at DESC, id DESC")
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filters.Offset > 0 {
		args = append(args, filters.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}
	return sb.String(), args
}

// escapeLike escapes LIKE metacharacters using Postgres' default backslash escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (r *PGRepo) Summary(ctx context.Context, ownerID string) (Summary, error) {
	var s Summary
	err := r.DB.QueryRowContext(ctx, `
SELECT
    COUNT(*),
    COALESCE(SUM(size_bytes), 0),
    COUNT(DISTINCT digest),
    COALESCE((
        SELECT SUM(d.size_bytes) FROM (
            SELECT MAX(size_bytes) AS size_bytes FROM files WHERE owner_id = $1 GROUP BY digest
        ) d
    ), 0)
FROM files
WHERE owner_id = $1`, ownerID).Scan(&s.Records, &s.LogicalBytes, &s.DistinctDigests, &s.PhysicalBytes)
	if err != nil {
		return Summary{}, err
	}
	return s, nil
}

func (r *PGRepo) ContentTypes(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT DISTINCT content_type
FROM files
WHERE owner_id = $1 AND content_type <> ''
ORDER BY content_type`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var ct string
		if err := rows.Scan(&ct); err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == "files_pkey" {
			return fmt.Errorf("%w: duplicate id", ErrInvalidInput)
		}
		return ErrOwnerExists
	case "23503":
		return ErrInvalidReference
	case "23514":
		return fmt.Errorf("%w: %s", ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

var _ Repo = (*PGRepo)(nil)
