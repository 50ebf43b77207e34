package listing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists listings. The billing engine only needs ownership counts,
// per-listing purchase effects and the staleness sweep; the directory's
// search and moderation surfaces live elsewhere on the same table.
type Store interface {
	// Create inserts a new listing.
	Create(ctx context.Context, l *Listing) error

	// Get returns a listing by ID, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Listing, error)

	// CountByOwner returns the number of non-rejected listings an account
	// owns, for quota gating.
	CountByOwner(ctx context.Context, ownerAccountID uuid.UUID) (int64, error)

	// MarkRefreshed records a completed content refresh. Idempotent: the
	// stored timestamp only ever moves forward.
	MarkRefreshed(ctx context.Context, id uuid.UUID, at time.Time) error

	// ExtendBoost pushes BoostedUntil to the given time if that is later
	// than the stored value.
	ExtendBoost(ctx context.Context, id uuid.UUID, until time.Time) error

	// ListStaleApproved returns approved listings not refreshed since the
	// cutoff (including never-refreshed ones), ordered by owner so callers
	// can batch per account.
	ListStaleApproved(ctx context.Context, cutoff time.Time) ([]Listing, error)
}
