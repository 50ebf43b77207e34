package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/plan"
)

// Patch describes a partial entitlement update. Nil fields are left
// unchanged; implementations merge last-writer-wins per field in a single
// conditional write. Correlation refs are the exception: once set they are
// sticky (first writer wins), so concurrent checkout initiations converge on
// one provider customer and a ref can never be silently dropped or swapped.
// Clearing the subscription ref requires the explicit flag below.
type Patch struct {
	Plan                   *plan.Tier
	Quota                  *int
	ValidFrom              *time.Time
	ValidUntil             *time.Time
	BillingCustomerRef     *string
	BillingSubscriptionRef *string
	PaymentStatus          *PaymentStatus
	Source                 *Source
	Features               []plan.Feature // nil = unchanged; empty slice clears

	// ClearSubscriptionRef removes the provider subscription correlation.
	// Used only by the cancellation transition.
	ClearSubscriptionRef bool

	// MonotonicValidUntil applies ValidUntil as a floor-raise rather than an
	// overwrite while the stored payment status is already active. Renewal
	// events set this so an out-of-order older period end can never shorten
	// a paid window, even when two events race on the same row.
	MonotonicValidUntil bool
}

// Store is the single choke point for entitlement persistence. All
// invariants (one row per account, refs never silently dropped, upsert as
// one conditional write) live behind this interface.
type Store interface {
	// Get returns the entitlement for an account, or ErrNotFound.
	Get(ctx context.Context, accountID uuid.UUID) (*Entitlement, error)

	// Upsert merges a patch into the account's row, creating a default free
	// row first if none exists. The merge and the create are one atomic
	// statement, never a read-then-write pair.
	Upsert(ctx context.Context, accountID uuid.UUID, patch Patch) (*Entitlement, error)

	// CreateIfAbsent inserts the given entitlement only when the account has
	// no row yet, reporting whether the insert happened. This is the
	// exactly-once primitive behind trial activation.
	CreateIfAbsent(ctx context.Context, e *Entitlement) (created bool, err error)

	// ExtendValidity pushes ValidUntil forward by the given duration,
	// measured from the later of the stored ValidUntil and now. Used for
	// generic account credits.
	ExtendValidity(ctx context.Context, accountID uuid.UUID, by time.Duration) (*Entitlement, error)

	// FindBySubscriptionRef resolves an account by provider subscription
	// correlation, or ErrNotFound.
	FindBySubscriptionRef(ctx context.Context, ref string) (*Entitlement, error)

	// FindByCustomerRef resolves an account by provider customer
	// correlation, or ErrNotFound.
	FindByCustomerRef(ctx context.Context, ref string) (*Entitlement, error)

	// ListExpiringPaid returns provider-managed entitlements whose
	// ValidUntil falls in (now, until].
	ListExpiringPaid(ctx context.Context, now, until time.Time) ([]Entitlement, error)

	// ListLapsedTrials returns trial-sourced entitlements whose ValidUntil
	// is at or before the given time and that never gained a provider
	// subscription.
	ListLapsedTrials(ctx context.Context, asOf time.Time) ([]Entitlement, error)
}

func ptr[T any](v T) *T { return &v }

// PatchFromPlan builds the patch fields shared by every transition that
// moves an account onto a plan: tier, quota and feature flags.
func PatchFromPlan(p plan.Plan) Patch {
	features := p.Features
	if features == nil {
		features = []plan.Feature{}
	}
	return Patch{
		Plan:     ptr(p.Tier),
		Quota:    ptr(p.Quota),
		Features: features,
	}
}
