package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/listing"
	"github.com/promptdir/entitlement/pkg/plan"
)

// ProcessorConfig holds the policy knobs of the webhook state machine.
type ProcessorConfig struct {
	// GracePeriod is how long access survives a failed payment. The default
	// of zero collapses access immediately; operators who prefer dunning
	// over hard cutoff raise it.
	GracePeriod time.Duration `env:"BILLING_GRACE_PERIOD" envDefault:"0s"`

	// BoostDuration is how long a purchased listing boost lasts.
	BoostDuration time.Duration `env:"BILLING_BOOST_DURATION" envDefault:"720h"`

	// FallbackCredit is the generic validity extension applied when a
	// one-time purchase cannot be matched to its listing anymore.
	FallbackCredit time.Duration `env:"BILLING_FALLBACK_CREDIT" envDefault:"720h"`
}

// Processor consumes billing provider events and applies them to the
// entitlement store. It is the only component allowed to mark an entitlement
// active from a real payment.
//
// Every transition writes absolute timestamps and enum values, never
// relative increments, so replaying any event is safe. Out-of-order renewal
// periods are rejected by the store's monotonic merge.
type Processor struct {
	store    entitlement.Store
	listings listing.Store
	provider Provider
	catalog  *plan.Catalog
	dedup    Deduper
	cfg      ProcessorConfig
	log      *slog.Logger

	now func() time.Time
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithClock overrides the processor clock, for tests.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProcessor creates the webhook event processor. Panics on nil required
// dependencies to fail fast during initialization.
func NewProcessor(store entitlement.Store, listings listing.Store, provider Provider, catalog *plan.Catalog, dedup Deduper, cfg ProcessorConfig, log *slog.Logger, opts ...ProcessorOption) *Processor {
	if store == nil {
		panic("billing: entitlement store is required")
	}
	if listings == nil {
		panic("billing: listing store is required")
	}
	if provider == nil {
		panic("billing: provider is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}
	if dedup == nil {
		panic("billing: deduper is required")
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Processor{
		store:    store,
		listings: listings,
		provider: provider,
		catalog:  catalog,
		dedup:    dedup,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle verifies, normalizes and applies one webhook delivery. A nil return
// tells the caller to acknowledge (200); any error tells the provider to
// redeliver later. Signature failures are ErrSignatureInvalid and must not
// be acknowledged.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := p.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	if event.Type == "" {
		p.log.DebugContext(ctx, "ignoring unhandled billing event",
			slog.String("provider_event", event.ProviderEvent))
		return nil
	}

	if event.ID != "" {
		seen, err := p.dedup.Seen(ctx, event.ID)
		if err != nil {
			// Dedup is a fast path only; transitions are idempotent.
			p.log.WarnContext(ctx, "event dedup check failed, processing anyway",
				slog.String("event_id", event.ID), slog.Any("error", err))
		} else if seen {
			p.log.DebugContext(ctx, "duplicate billing event acknowledged",
				slog.String("event_id", event.ID))
			return nil
		}
	}

	if err := p.apply(ctx, event); err != nil {
		return err
	}

	if event.ID != "" {
		if err := p.dedup.MarkProcessed(ctx, event.ID); err != nil {
			p.log.WarnContext(ctx, "failed to mark event processed",
				slog.String("event_id", event.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (p *Processor) apply(ctx context.Context, event *Event) error {
	ent, err := p.resolve(ctx, event)
	if err != nil {
		if errors.Is(err, ErrMissingCorrelation) {
			// Nothing to correlate against and nothing a redelivery could
			// fix; acknowledge and leave a trail for manual reconciliation.
			p.log.ErrorContext(ctx, "billing event has no usable correlation, acknowledged for manual review",
				slog.String("event_id", event.ID),
				slog.String("provider_event", event.ProviderEvent))
			return nil
		}
		return err
	}

	switch event.Type {
	case EventPaymentSucceeded:
		return p.applyRenewal(ctx, ent, event)
	case EventPaymentFailed:
		return p.applyPaymentFailed(ctx, ent, event)
	case EventCheckoutCompleted:
		return p.applyCheckoutCompleted(ctx, ent, event)
	case EventSubscriptionCanceled:
		return p.applyCanceled(ctx, ent, event)
	default:
		return nil
	}
}

// resolve finds the entitlement an event belongs to. The three write paths
// (checkout, trial, prior webhook) may each have populated only a subset of
// correlation fields, so lookup falls through subscription ref, customer
// ref, and finally creates a default row keyed by the account metadata the
// checkout session carried.
func (p *Processor) resolve(ctx context.Context, event *Event) (*entitlement.Entitlement, error) {
	if ent, err := p.store.FindBySubscriptionRef(ctx, event.SubscriptionRef); err == nil {
		return ent, nil
	} else if !errors.Is(err, entitlement.ErrNotFound) {
		return nil, err
	}

	if ent, err := p.store.FindByCustomerRef(ctx, event.CustomerRef); err == nil {
		return ent, nil
	} else if !errors.Is(err, entitlement.ErrNotFound) {
		return nil, err
	}

	if event.AccountID == uuid.Nil {
		return nil, ErrMissingCorrelation
	}

	// Absence must never block billing acknowledgment: create the default
	// free row and correlate it.
	return p.store.Upsert(ctx, event.AccountID, entitlement.Patch{
		BillingCustomerRef:     optionalRef(event.CustomerRef),
		BillingSubscriptionRef: optionalRef(event.SubscriptionRef),
	})
}

// applyRenewal handles a recurring payment success: activate and extend to
// the provider-reported period end. An older period end than the stored one
// means out-of-order delivery; both this check and the store's monotonic
// merge ignore it.
func (p *Processor) applyRenewal(ctx context.Context, ent *entitlement.Entitlement, event *Event) error {
	if event.SubscriptionRef == "" && !ent.ProviderManaged() {
		p.log.WarnContext(ctx, "payment succeeded event without subscription ref, skipped",
			slog.String("event_id", event.ID))
		return nil
	}

	if ent.PaymentStatus == entitlement.PaymentActive &&
		!event.PeriodEnd.IsZero() && event.PeriodEnd.Before(ent.ValidUntil) {
		p.log.InfoContext(ctx, "stale renewal event ignored",
			slog.String("account_id", ent.AccountID.String()),
			slog.Time("event_period_end", event.PeriodEnd),
			slog.Time("stored_valid_until", ent.ValidUntil))
		return nil
	}

	patch := entitlement.Patch{
		PaymentStatus:          ref(entitlement.PaymentActive),
		Source:                 ref(entitlement.SourcePaid),
		BillingCustomerRef:     optionalRef(event.CustomerRef),
		BillingSubscriptionRef: optionalRef(event.SubscriptionRef),
		MonotonicValidUntil:    true,
	}
	if !event.PeriodEnd.IsZero() {
		patch.ValidUntil = &event.PeriodEnd
	}
	p.mergePlan(&patch, event.PriceRef)

	_, err := p.store.Upsert(ctx, ent.AccountID, patch)
	if err != nil {
		return err
	}

	p.log.InfoContext(ctx, "renewal applied",
		slog.String("account_id", ent.AccountID.String()),
		slog.Time("valid_until", event.PeriodEnd))
	return nil
}

// applyPaymentFailed marks the account past due and collapses access to the
// configured grace period. Provider consistency wins over the previously
// stored future validity.
func (p *Processor) applyPaymentFailed(ctx context.Context, ent *entitlement.Entitlement, event *Event) error {
	until := p.now().Add(p.cfg.GracePeriod)
	_, err := p.store.Upsert(ctx, ent.AccountID, entitlement.Patch{
		PaymentStatus: ref(entitlement.PaymentPastDue),
		ValidUntil:    &until,
	})
	if err != nil {
		return err
	}

	p.log.WarnContext(ctx, "payment failed, access collapsed",
		slog.String("account_id", ent.AccountID.String()),
		slog.Time("valid_until", until),
		slog.String("event_id", event.ID))
	return nil
}

// applyCheckoutCompleted routes a completed checkout to its effect: a
// subscription activation or a one-time per-listing purchase.
func (p *Processor) applyCheckoutCompleted(ctx context.Context, ent *entitlement.Entitlement, event *Event) error {
	switch event.PurchaseType {
	case PurchaseBoost:
		return p.applyListingPurchase(ctx, ent, event, func(id uuid.UUID) error {
			return p.listings.ExtendBoost(ctx, id, p.now().Add(p.cfg.BoostDuration))
		})
	case PurchaseRefresh:
		return p.applyListingPurchase(ctx, ent, event, func(id uuid.UUID) error {
			return p.listings.MarkRefreshed(ctx, id, p.now())
		})
	case PurchaseSubscription:
		return p.applySubscriptionCheckout(ctx, ent, event)
	default:
		if event.SubscriptionRef != "" {
			// Sessions created outside this engine lack the purchase_type
			// metadata; a subscription ref still identifies them.
			return p.applySubscriptionCheckout(ctx, ent, event)
		}
		p.log.ErrorContext(ctx, "checkout completed with unknown purchase type, acknowledged for manual review",
			slog.String("event_id", event.ID),
			slog.String("account_id", ent.AccountID.String()))
		return nil
	}
}

// applyListingPurchase applies a one-time effect scoped to one listing. If
// the listing metadata is missing or the listing was deleted between
// checkout and delivery, the paid-for value is preserved as a generic
// validity credit on the account instead of being silently dropped.
func (p *Processor) applyListingPurchase(ctx context.Context, ent *entitlement.Entitlement, event *Event, effect func(uuid.UUID) error) error {
	if event.ListingID != uuid.Nil {
		err := effect(event.ListingID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, listing.ErrNotFound) {
			return err
		}
	}

	if _, err := p.store.ExtendValidity(ctx, ent.AccountID, p.cfg.FallbackCredit); err != nil {
		return err
	}
	p.log.ErrorContext(ctx, "one-time purchase could not be matched to a listing, credited account instead",
		slog.String("event_id", event.ID),
		slog.String("account_id", ent.AccountID.String()),
		slog.String("listing_id", event.ListingID.String()),
		slog.String("purchase_type", string(event.PurchaseType)))
	return nil
}

// applySubscriptionCheckout activates a newly purchased subscription from
// the provider's authoritative detail rather than trusting the event body.
func (p *Processor) applySubscriptionCheckout(ctx context.Context, ent *entitlement.Entitlement, event *Event) error {
	if event.SubscriptionRef == "" {
		p.log.ErrorContext(ctx, "subscription checkout without subscription ref, acknowledged for manual review",
			slog.String("event_id", event.ID),
			slog.String("account_id", ent.AccountID.String()))
		return nil
	}

	detail, err := p.provider.GetSubscription(ctx, event.SubscriptionRef)
	if err != nil {
		return err
	}

	periodEnd := detail.PeriodEnd
	if periodEnd.IsZero() {
		periodEnd = event.PeriodEnd
	}
	priceRef := detail.PriceRef
	if priceRef == "" {
		priceRef = event.PriceRef
	}

	now := p.now()
	patch := entitlement.Patch{
		PaymentStatus:          ref(entitlement.PaymentActive),
		Source:                 ref(entitlement.SourcePaid),
		ValidFrom:              &now,
		BillingCustomerRef:     optionalRef(detail.CustomerRef),
		BillingSubscriptionRef: optionalRef(detail.SubscriptionRef),
		MonotonicValidUntil:    true,
	}
	if !periodEnd.IsZero() {
		patch.ValidUntil = &periodEnd
	}
	p.mergePlan(&patch, priceRef)

	if _, err := p.store.Upsert(ctx, ent.AccountID, patch); err != nil {
		return err
	}

	p.log.InfoContext(ctx, "subscription activated",
		slog.String("account_id", ent.AccountID.String()),
		slog.String("subscription_ref", detail.SubscriptionRef),
		slog.Time("valid_until", periodEnd))
	return nil
}

// applyCanceled downgrades the account to the free plan and severs the
// subscription correlation so a future signup can attach a fresh one.
func (p *Processor) applyCanceled(ctx context.Context, ent *entitlement.Entitlement, event *Event) error {
	now := p.now()
	free := p.catalog.Free()

	patch := entitlement.PatchFromPlan(free)
	patch.PaymentStatus = ref(entitlement.PaymentCanceled)
	patch.ValidUntil = &now
	patch.ClearSubscriptionRef = true

	if _, err := p.store.Upsert(ctx, ent.AccountID, patch); err != nil {
		return err
	}

	p.log.InfoContext(ctx, "subscription canceled, account downgraded",
		slog.String("account_id", ent.AccountID.String()),
		slog.String("event_id", event.ID))
	return nil
}

// mergePlan fills plan tier, quota and features from the catalog when the
// price ref is known. Unknown refs leave the stored plan untouched rather
// than guessing.
func (p *Processor) mergePlan(patch *entitlement.Patch, priceRef string) {
	if priceRef == "" {
		return
	}
	pl, err := p.catalog.ByPriceRef(priceRef)
	if err != nil {
		return
	}
	planPatch := entitlement.PatchFromPlan(pl)
	patch.Plan = planPatch.Plan
	patch.Quota = planPatch.Quota
	patch.Features = planPatch.Features
}

func ref[T any](v T) *T { return &v }

func optionalRef(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
