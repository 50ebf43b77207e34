package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdir/entitlement/pkg/entitlement"
	"github.com/promptdir/entitlement/pkg/plan"
)

func newTestService(t *testing.T, now time.Time) (*entitlement.Service, *entitlement.MemoryStore, *entitlement.MemoryAuditStore) {
	t.Helper()

	catalog, err := plan.NewCatalog(context.Background(), plan.DefaultPlans())
	require.NoError(t, err)

	store := entitlement.NewMemoryStore()
	store.Now = fixedClock(now)
	audit := &entitlement.MemoryAuditStore{}

	svc := entitlement.NewService(store, catalog, audit, entitlement.Config{TrialDays: 90},
		entitlement.WithClock(fixedClock(now)))
	return svc, store, audit
}

func TestService_ActivateTrial(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("grants a 90 day trial on first activation", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)
		accountID := uuid.New()

		e, created, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, plan.TierFree, e.Plan)
		assert.Equal(t, entitlement.SourceTrial, e.Source)
		assert.Equal(t, now.AddDate(0, 0, 90), e.ValidUntil)
		assert.True(t, e.ActiveAt(now))
	})

	t.Run("is granted exactly once ever", func(t *testing.T) {
		t.Parallel()
		svc, store, _ := newTestService(t, now)
		accountID := uuid.New()

		first, created, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)
		require.True(t, created)

		// Lapse the trial, then try again: no second trial.
		_, err = store.Upsert(ctx, accountID, entitlement.Patch{
			ValidUntil: ptrTo(now.Add(-time.Hour)),
		})
		require.NoError(t, err)

		again, created, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.AccountID, again.AccountID)
		assert.False(t, again.ActiveAt(now), "lapsed trial must stay lapsed")
	})

	t.Run("rejects nil account", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)
		_, _, err := svc.ActivateTrial(ctx, uuid.Nil)
		assert.ErrorIs(t, err, entitlement.ErrMissingAccount)
	})
}

func TestService_GrantEntitlement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actorID := uuid.New()

	t.Run("puts the account on a plan with source gift", func(t *testing.T) {
		t.Parallel()
		svc, _, audit := newTestService(t, now)
		accountID := uuid.New()

		e, err := svc.GrantEntitlement(ctx, actorID, accountID, plan.TierAgency, 6)
		require.NoError(t, err)
		assert.Equal(t, plan.TierAgency, e.Plan)
		assert.Equal(t, 50, e.Quota)
		assert.Equal(t, entitlement.SourceGift, e.Source)
		assert.Equal(t, now.AddDate(0, 6, 0), e.ValidUntil)

		require.Len(t, audit.Entries, 1)
		assert.Equal(t, "grant_entitlement", audit.Entries[0].Action)
		assert.Equal(t, actorID, audit.Entries[0].ActorID)
	})

	t.Run("preserves provider refs on granted accounts", func(t *testing.T) {
		t.Parallel()
		svc, store, _ := newTestService(t, now)
		accountID := uuid.New()

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingCustomerRef: ptrTo("ctm_existing"),
		})
		require.NoError(t, err)

		e, err := svc.GrantEntitlement(ctx, actorID, accountID, plan.TierPro, 1)
		require.NoError(t, err)
		assert.Equal(t, "ctm_existing", e.BillingCustomerRef)
	})

	t.Run("never shortens an active paid window", func(t *testing.T) {
		t.Parallel()
		svc, store, _ := newTestService(t, now)
		accountID := uuid.New()

		paidUntil := now.AddDate(1, 0, 0)
		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingSubscriptionRef: ptrTo("sub_yearly"),
			PaymentStatus:          ptrTo(entitlement.PaymentActive),
			ValidUntil:             ptrTo(paidUntil),
		})
		require.NoError(t, err)

		e, err := svc.GrantEntitlement(ctx, actorID, accountID, plan.TierAgency, 1)
		require.NoError(t, err)
		assert.Equal(t, plan.TierAgency, e.Plan)
		assert.Equal(t, paidUntil, e.ValidUntil, "gift must keep the longer provider window")

		// A lapsed account takes the gift window as-is.
		lapsedAccount := uuid.New()
		_, err = store.Upsert(ctx, lapsedAccount, entitlement.Patch{
			ValidUntil: ptrTo(now.Add(-time.Hour)),
		})
		require.NoError(t, err)

		lapsed, err := svc.GrantEntitlement(ctx, actorID, lapsedAccount, plan.TierPro, 1)
		require.NoError(t, err)
		assert.Equal(t, now.AddDate(0, 1, 0), lapsed.ValidUntil)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)

		_, err := svc.GrantEntitlement(ctx, actorID, uuid.Nil, plan.TierPro, 1)
		assert.ErrorIs(t, err, entitlement.ErrMissingAccount)

		_, err = svc.GrantEntitlement(ctx, actorID, uuid.New(), plan.TierPro, 0)
		assert.ErrorIs(t, err, entitlement.ErrInvalidMonths)

		_, err = svc.GrantEntitlement(ctx, actorID, uuid.New(), "platinum", 1)
		assert.ErrorIs(t, err, entitlement.ErrInvalidPlan)
	})
}

func TestService_MarkPaid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actorID := uuid.New()

	t.Run("flips payment status on an existing row", func(t *testing.T) {
		t.Parallel()
		svc, _, audit := newTestService(t, now)
		accountID := uuid.New()

		_, _, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)

		e, err := svc.MarkPaid(ctx, actorID, accountID)
		require.NoError(t, err)
		assert.Equal(t, entitlement.PaymentActive, e.PaymentStatus)

		require.Len(t, audit.Entries, 1)
		assert.Equal(t, "mark_paid", audit.Entries[0].Action)
	})

	t.Run("refuses to fabricate a row for an unknown account", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)
		_, err := svc.MarkPaid(ctx, actorID, uuid.New())
		assert.ErrorIs(t, err, entitlement.ErrNotFound)
	})
}

func TestService_CanCreateListing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("allows under quota", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)
		accountID := uuid.New()
		_, _, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)

		assert.NoError(t, svc.CanCreateListing(ctx, accountID, 0))
	})

	t.Run("denies at quota", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)
		accountID := uuid.New()
		_, _, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)

		err = svc.CanCreateListing(ctx, accountID, 1)
		assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)
	})

	t.Run("denies when the entitlement lapsed", func(t *testing.T) {
		t.Parallel()
		svc, store, _ := newTestService(t, now)
		accountID := uuid.New()
		_, _, err := svc.ActivateTrial(ctx, accountID)
		require.NoError(t, err)

		_, err = store.Upsert(ctx, accountID, entitlement.Patch{
			ValidUntil: ptrTo(now.Add(-time.Minute)),
		})
		require.NoError(t, err)

		err = svc.CanCreateListing(ctx, accountID, 0)
		assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)
	})
}

func TestService_HasFeature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fails closed on unknown account", func(t *testing.T) {
		t.Parallel()
		svc, _, _ := newTestService(t, now)
		assert.False(t, svc.HasFeature(ctx, uuid.New(), plan.FeatureAdvancedAnalysis))
	})

	t.Run("reports plan features while active", func(t *testing.T) {
		t.Parallel()
		svc, store, _ := newTestService(t, now)
		accountID := uuid.New()

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			ValidUntil: ptrTo(time.Now().UTC().Add(time.Hour)),
			Features:   []plan.Feature{plan.FeatureAdvancedAnalysis},
		})
		require.NoError(t, err)

		assert.True(t, svc.HasFeature(ctx, accountID, plan.FeatureAdvancedAnalysis))
		assert.False(t, svc.HasFeature(ctx, accountID, plan.FeatureMultiSeat))
	})
}
