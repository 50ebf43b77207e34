package listing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptdir/entitlement/pkg/pg"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("listing: pgx pool is required")
	}
	return &PostgresStore{pool: pool}
}

const listingColumns = `id, owner_account_id, title, url, status,
	last_refreshed_at, boosted_until, created_at, updated_at`

func scanListing(row pgx.Row) (*Listing, error) {
	var (
		l      Listing
		status string
	)
	err := row.Scan(&l.ID, &l.OwnerAccountID, &l.Title, &l.URL, &status,
		&l.LastRefreshedAt, &l.BoostedUntil, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.Status = Status(status)
	return &l, nil
}

func (s *PostgresStore) Create(ctx context.Context, l *Listing) error {
	if l.OwnerAccountID == uuid.Nil {
		return ErrMissingOwner
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Status == "" {
		l.Status = StatusPending
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO listings (id, owner_account_id, title, url, status, last_refreshed_at, boosted_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		l.ID, l.OwnerAccountID, l.Title, l.URL, string(l.Status),
		l.LastRefreshedAt, l.BoostedUntil)
	if err := row.Scan(&l.CreatedAt, &l.UpdatedAt); err != nil {
		return errors.Join(ErrStoreWrite, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

func (s *PostgresStore) CountByOwner(ctx context.Context, ownerAccountID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM listings WHERE owner_account_id = $1 AND status <> 'rejected'`,
		ownerAccountID).Scan(&count)
	return count, err
}

func (s *PostgresStore) MarkRefreshed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET last_refreshed_at = GREATEST(COALESCE(last_refreshed_at, 'epoch'::timestamptz), $2),
		    updated_at = now()
		WHERE id = $1`,
		id, at)
	if err != nil {
		return errors.Join(ErrStoreWrite, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ExtendBoost(ctx context.Context, id uuid.UUID, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE listings
		SET boosted_until = GREATEST(COALESCE(boosted_until, 'epoch'::timestamptz), $2),
		    updated_at = now()
		WHERE id = $1`,
		id, until)
	if err != nil {
		return errors.Join(ErrStoreWrite, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListStaleApproved(ctx context.Context, cutoff time.Time) ([]Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status = 'approved'
		  AND (last_refreshed_at IS NULL OR last_refreshed_at <= $1)
		ORDER BY owner_account_id, created_at`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Listing, 0)
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
