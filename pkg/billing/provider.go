package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PurchaseType distinguishes what a checkout session buys. It travels to the
// provider as session metadata and comes back on the completion event.
type PurchaseType string

const (
	// PurchaseSubscription starts or changes a recurring plan.
	PurchaseSubscription PurchaseType = "subscription"
	// PurchaseBoost buys temporary placement for one listing.
	PurchaseBoost PurchaseType = "boost"
	// PurchaseRefresh pays for a one-off content refresh of one listing.
	PurchaseRefresh PurchaseType = "refresh"
)

// Valid reports whether the purchase type is known.
func (t PurchaseType) Valid() bool {
	switch t {
	case PurchaseSubscription, PurchaseBoost, PurchaseRefresh:
		return true
	}
	return false
}

// EventType is the normalized billing event type. The provider
// implementation maps its own event names onto these.
type EventType string

const (
	EventPaymentSucceeded     EventType = "payment_succeeded"
	EventPaymentFailed        EventType = "payment_failed"
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionCanceled EventType = "subscription_canceled"
)

// Event is a normalized, signature-verified webhook event. Correlation
// fields may be partially populated depending on which write path created
// the entitlement first; the processor tries them in order.
type Event struct {
	ID            string    // provider event ID, used for deduplication
	Type          EventType // normalized type; empty for events the engine ignores
	ProviderEvent string    // original provider event name

	SubscriptionRef string
	CustomerRef     string
	AccountID       uuid.UUID // from session metadata; Nil when absent
	ListingID       uuid.UUID // for one-time listing purchases; Nil when absent
	PurchaseType    PurchaseType
	PriceRef        string

	PeriodEnd  time.Time // provider-reported paid period end; zero when absent
	OccurredAt time.Time

	Raw map[string]any
}

// CheckoutRequest contains data needed to start a hosted payment session.
type CheckoutRequest struct {
	CustomerRef  string
	PriceRef     string
	AccountID    uuid.UUID
	PurchaseType PurchaseType
	ListingID    uuid.UUID // required for boost/refresh purchases
	SuccessURL   string
}

// CheckoutSession is a hosted payment session the caller redirects to.
type CheckoutSession struct {
	RedirectURL string
	SessionID   string
	ExpiresAt   time.Time
}

// SubscriptionDetail is the provider's full view of one subscription,
// fetched when a checkout completion needs authoritative plan data.
type SubscriptionDetail struct {
	SubscriptionRef string
	CustomerRef     string
	PriceRef        string
	Status          string
	PeriodEnd       time.Time
}

// Provider is the payment provider contract. Implementations must verify
// webhook signatures before any parsing and fail closed.
type Provider interface {
	// CreateCustomer creates a provider customer for an account and returns
	// its correlation ref.
	CreateCustomer(ctx context.Context, accountID uuid.UUID, email string) (string, error)

	// CreateCheckout starts a hosted payment session.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// GetSubscription fetches authoritative subscription detail.
	GetSubscription(ctx context.Context, subscriptionRef string) (*SubscriptionDetail, error)

	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns ErrSignatureInvalid on verification failure, before touching
	// the payload.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}
