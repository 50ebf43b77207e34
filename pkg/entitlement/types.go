package entitlement

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/plan"
)

// PaymentStatus mirrors the billing provider's view of the account.
// It is informational alongside ValidUntil; access is always derived from
// ValidUntil alone.
type PaymentStatus string

const (
	PaymentNone     PaymentStatus = "none"
	PaymentActive   PaymentStatus = "active"
	PaymentPastDue  PaymentStatus = "past_due"
	PaymentCanceled PaymentStatus = "canceled"
)

// Source distinguishes promotional grants from revenue-bearing ones.
// SourceNone marks rows fabricated for billing correlation before any grant
// happened; such rows never count as trials.
type Source string

const (
	SourceNone  Source = "none"
	SourceTrial Source = "trial"
	SourcePaid  Source = "paid"
	SourceGift  Source = "gift"
)

// Entitlement is the authoritative record of what an account may do and
// until when. There is at most one row per account; ValidUntil is the single
// activity signal and lapses without requiring a write.
type Entitlement struct {
	AccountID              uuid.UUID
	Plan                   plan.Tier
	Quota                  int
	ValidFrom              time.Time
	ValidUntil             time.Time
	BillingCustomerRef     string // empty until a provider customer exists
	BillingSubscriptionRef string // empty until a provider subscription exists
	PaymentStatus          PaymentStatus
	Source                 Source
	Features               []plan.Feature
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ActiveAt reports whether the entitlement grants access at the given time.
func (e *Entitlement) ActiveAt(now time.Time) bool {
	return now.Before(e.ValidUntil)
}

// IsActive reports whether the entitlement grants access right now.
func (e *Entitlement) IsActive() bool {
	return e.ActiveAt(time.Now().UTC())
}

// HasFeature reports whether a feature flag is set. An expired entitlement
// has no features regardless of flags.
func (e *Entitlement) HasFeature(f plan.Feature) bool {
	return e.IsActive() && slices.Contains(e.Features, f)
}

// ProviderManaged reports whether billing for this account is driven by the
// payment provider, i.e. a subscription correlation exists.
func (e *Entitlement) ProviderManaged() bool {
	return e.BillingSubscriptionRef != ""
}
