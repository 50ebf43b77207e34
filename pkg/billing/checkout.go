package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/plan"
)

// CheckoutConfig holds checkout flow configuration.
type CheckoutConfig struct {
	SuccessURL string `env:"CHECKOUT_SUCCESS_URL,required"`
}

// StartCheckoutRequest is the caller's intent to buy something.
type StartCheckoutRequest struct {
	AccountID    uuid.UUID
	PriceRef     string
	PurchaseType PurchaseType
	ListingID    uuid.UUID // required for boost/refresh
	Email        string    // optional, pre-fills the provider customer
}

// CheckoutService starts hosted payment sessions. It writes nothing
// authoritative: the only store write is persisting a freshly created
// customer ref, and activation strictly belongs to the webhook processor.
type CheckoutService struct {
	store    entitlement.Store
	provider Provider
	catalog  *plan.Catalog
	cfg      CheckoutConfig
	log      *slog.Logger
}

// NewCheckoutService creates a checkout service. Panics on nil dependencies
// to fail fast during initialization.
func NewCheckoutService(store entitlement.Store, provider Provider, catalog *plan.Catalog, cfg CheckoutConfig, log *slog.Logger) *CheckoutService {
	if store == nil {
		panic("billing: entitlement store is required")
	}
	if provider == nil {
		panic("billing: provider is required")
	}
	if catalog == nil {
		panic("billing: plan catalog is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{
		store:    store,
		provider: provider,
		catalog:  catalog,
		cfg:      cfg,
		log:      log,
	}
}

// Start resolves or creates the provider customer correlation, persists it,
// and opens a hosted payment session. Provider failures surface as
// ErrProviderUnreachable so the caller can prompt a retry.
func (s *CheckoutService) Start(ctx context.Context, req StartCheckoutRequest) (*CheckoutSession, error) {
	if req.AccountID == uuid.Nil {
		return nil, ErrMissingAccount
	}
	if req.PriceRef == "" {
		return nil, ErrMissingPriceRef
	}
	if !req.PurchaseType.Valid() {
		return nil, ErrInvalidPurchaseType
	}
	if req.PurchaseType != PurchaseSubscription && req.ListingID == uuid.Nil {
		return nil, ErrMissingListing
	}
	if req.PurchaseType == PurchaseSubscription {
		// Subscriptions must map to a catalog plan, or the completion
		// webhook would have nothing to grant.
		if _, err := s.catalog.ByPriceRef(req.PriceRef); err != nil {
			return nil, err
		}
	}

	customerRef, err := s.resolveCustomerRef(ctx, req)
	if err != nil {
		return nil, err
	}

	session, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		CustomerRef:  customerRef,
		PriceRef:     req.PriceRef,
		AccountID:    req.AccountID,
		PurchaseType: req.PurchaseType,
		ListingID:    req.ListingID,
		SuccessURL:   s.cfg.SuccessURL,
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "checkout session created",
		slog.String("account_id", req.AccountID.String()),
		slog.String("purchase_type", string(req.PurchaseType)),
		slog.String("session_id", session.SessionID))
	return session, nil
}

// resolveCustomerRef reuses the stored customer correlation or creates one
// at the provider and persists it immediately. The upsert's sticky-ref merge
// means concurrent initiations converge on whichever ref landed first.
func (s *CheckoutService) resolveCustomerRef(ctx context.Context, req StartCheckoutRequest) (string, error) {
	existing, err := s.store.Get(ctx, req.AccountID)
	if err != nil && !errors.Is(err, entitlement.ErrNotFound) {
		return "", err
	}
	if existing != nil && existing.BillingCustomerRef != "" {
		return existing.BillingCustomerRef, nil
	}

	created, err := s.provider.CreateCustomer(ctx, req.AccountID, req.Email)
	if err != nil {
		return "", err
	}

	merged, err := s.store.Upsert(ctx, req.AccountID, entitlement.Patch{
		BillingCustomerRef: &created,
	})
	if err != nil {
		return "", err
	}
	if merged.BillingCustomerRef != created {
		s.log.InfoContext(ctx, "concurrent checkout already registered a customer, reusing it",
			slog.String("account_id", req.AccountID.String()),
			slog.String("customer_ref", merged.BillingCustomerRef))
	}
	return merged.BillingCustomerRef, nil
}
