package billing_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdir/entitlement/pkg/billing"
	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/plan"
)

// checkoutProvider records customer creations and checkout requests.
type checkoutProvider struct {
	customers   int
	customerRef string
	customerErr error
	checkoutErr error
	lastReq     billing.CheckoutRequest
}

func (p *checkoutProvider) CreateCustomer(context.Context, uuid.UUID, string) (string, error) {
	p.customers++
	if p.customerErr != nil {
		return "", p.customerErr
	}
	return p.customerRef, nil
}

func (p *checkoutProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	p.lastReq = req
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	return &billing.CheckoutSession{RedirectURL: "https://pay.example/txn_01", SessionID: "txn_01"}, nil
}

func (p *checkoutProvider) GetSubscription(context.Context, string) (*billing.SubscriptionDetail, error) {
	return nil, billing.ErrProviderUnreachable
}

func (p *checkoutProvider) ParseWebhook(context.Context, []byte, string) (*billing.Event, error) {
	return nil, billing.ErrSignatureInvalid
}

func newCheckoutFixture(t *testing.T) (*billing.CheckoutService, *checkoutProvider, *entitlement.MemoryStore) {
	t.Helper()

	catalog, err := plan.NewCatalog(context.Background(), plan.StaticSource{
		{Tier: plan.TierFree, Name: "Free", Quota: 1},
		{Tier: plan.TierPro, Name: "Pro", Quota: 10, PriceRef: "pri_pro"},
	})
	require.NoError(t, err)

	store := entitlement.NewMemoryStore()
	provider := &checkoutProvider{customerRef: "ctm_created"}
	svc := billing.NewCheckoutService(store, provider, catalog,
		billing.CheckoutConfig{SuccessURL: "https://app.example/thanks"}, nil)
	return svc, provider, store
}

func TestCheckoutService_Start(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("creates and persists a customer ref on first checkout", func(t *testing.T) {
		t.Parallel()
		svc, provider, store := newCheckoutFixture(t)
		accountID := uuid.New()

		session, err := svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID:    accountID,
			PriceRef:     "pri_pro",
			PurchaseType: billing.PurchaseSubscription,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example/txn_01", session.RedirectURL)
		assert.Equal(t, 1, provider.customers)
		assert.Equal(t, "ctm_created", provider.lastReq.CustomerRef)
		assert.Equal(t, "https://app.example/thanks", provider.lastReq.SuccessURL)

		e, err := store.Get(ctx, accountID)
		require.NoError(t, err)
		assert.Equal(t, "ctm_created", e.BillingCustomerRef)
		assert.Equal(t, entitlement.PaymentNone, e.PaymentStatus,
			"checkout initiation never grants access")
		assert.Equal(t, entitlement.SourceNone, e.Source,
			"persisting a customer ref must not fabricate a trial")
	})

	t.Run("reuses the stored customer ref", func(t *testing.T) {
		t.Parallel()
		svc, provider, store := newCheckoutFixture(t)
		accountID := uuid.New()

		existing := "ctm_existing"
		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingCustomerRef: &existing,
		})
		require.NoError(t, err)

		_, err = svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID:    accountID,
			PriceRef:     "pri_pro",
			PurchaseType: billing.PurchaseSubscription,
		})
		require.NoError(t, err)
		assert.Zero(t, provider.customers, "no duplicate provider customer")
		assert.Equal(t, existing, provider.lastReq.CustomerRef)
	})

	t.Run("boost requires a listing", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newCheckoutFixture(t)

		_, err := svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID:    uuid.New(),
			PriceRef:     "pri_boost",
			PurchaseType: billing.PurchaseBoost,
		})
		assert.ErrorIs(t, err, billing.ErrMissingListing)
	})

	t.Run("subscription price ref must be in the catalog", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newCheckoutFixture(t)

		_, err := svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID:    uuid.New(),
			PriceRef:     "pri_unknown",
			PurchaseType: billing.PurchaseSubscription,
		})
		assert.ErrorIs(t, err, plan.ErrPriceRefNotFound)
	})

	t.Run("one-time purchases do not need a catalog entry", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newCheckoutFixture(t)

		_, err := svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID:    uuid.New(),
			PriceRef:     "pri_boost_oneoff",
			PurchaseType: billing.PurchaseBoost,
			ListingID:    uuid.New(),
		})
		assert.NoError(t, err)
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newCheckoutFixture(t)

		_, err := svc.Start(ctx, billing.StartCheckoutRequest{
			PriceRef: "pri_pro", PurchaseType: billing.PurchaseSubscription,
		})
		assert.ErrorIs(t, err, billing.ErrMissingAccount)

		_, err = svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID: uuid.New(), PurchaseType: billing.PurchaseSubscription,
		})
		assert.ErrorIs(t, err, billing.ErrMissingPriceRef)

		_, err = svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID: uuid.New(), PriceRef: "pri_pro", PurchaseType: "donation",
		})
		assert.ErrorIs(t, err, billing.ErrInvalidPurchaseType)
	})

	t.Run("provider failures surface as retryable", func(t *testing.T) {
		t.Parallel()
		svc, provider, _ := newCheckoutFixture(t)
		provider.checkoutErr = billing.ErrProviderUnreachable

		_, err := svc.Start(ctx, billing.StartCheckoutRequest{
			AccountID:    uuid.New(),
			PriceRef:     "pri_pro",
			PurchaseType: billing.PurchaseSubscription,
		})
		assert.ErrorIs(t, err, billing.ErrProviderUnreachable)
	})
}
