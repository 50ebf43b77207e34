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

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ptrTo[T any](v T) *T { return &v }

func TestMemoryStore_Upsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("creates a default free row when absent", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)
		accountID := uuid.New()

		e, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingCustomerRef: ptrTo("ctm_01"),
		})
		require.NoError(t, err)
		assert.Equal(t, plan.TierFree, e.Plan)
		assert.Equal(t, "ctm_01", e.BillingCustomerRef)
		assert.Equal(t, entitlement.PaymentNone, e.PaymentStatus)
		assert.Equal(t, entitlement.SourceNone, e.Source, "fabricated rows are not trials")
		assert.False(t, e.ActiveAt(now), "default row must not grant access")
	})

	t.Run("rejects nil account ID", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		_, err := store.Upsert(ctx, uuid.Nil, entitlement.Patch{})
		assert.ErrorIs(t, err, entitlement.ErrMissingAccount)
	})

	t.Run("nil patch fields leave the row unchanged", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)
		accountID := uuid.New()

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			Plan:       ptrTo(plan.TierPro),
			Quota:      ptrTo(10),
			ValidUntil: ptrTo(now.AddDate(0, 1, 0)),
		})
		require.NoError(t, err)

		e, err := store.Upsert(ctx, accountID, entitlement.Patch{
			PaymentStatus: ptrTo(entitlement.PaymentActive),
		})
		require.NoError(t, err)
		assert.Equal(t, plan.TierPro, e.Plan)
		assert.Equal(t, 10, e.Quota)
		assert.Equal(t, now.AddDate(0, 1, 0), e.ValidUntil)
	})

	t.Run("customer ref is sticky once set", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		accountID := uuid.New()

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingCustomerRef: ptrTo("ctm_first"),
		})
		require.NoError(t, err)

		e, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingCustomerRef: ptrTo("ctm_second"),
		})
		require.NoError(t, err)
		assert.Equal(t, "ctm_first", e.BillingCustomerRef,
			"a provider ref must never be silently swapped")
	})

	t.Run("subscription ref is sticky and only cleared explicitly", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		accountID := uuid.New()

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingSubscriptionRef: ptrTo("sub_first"),
		})
		require.NoError(t, err)

		e, err := store.Upsert(ctx, accountID, entitlement.Patch{
			BillingSubscriptionRef: ptrTo("sub_second"),
		})
		require.NoError(t, err)
		assert.Equal(t, "sub_first", e.BillingSubscriptionRef)

		e, err = store.Upsert(ctx, accountID, entitlement.Patch{ClearSubscriptionRef: true})
		require.NoError(t, err)
		assert.Empty(t, e.BillingSubscriptionRef)

		e, err = store.Upsert(ctx, accountID, entitlement.Patch{
			BillingSubscriptionRef: ptrTo("sub_second"),
		})
		require.NoError(t, err)
		assert.Equal(t, "sub_second", e.BillingSubscriptionRef,
			"a new subscription may attach after an explicit clear")
	})

	t.Run("monotonic valid_until never shortens an active paid window", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)
		accountID := uuid.New()
		later := now.AddDate(0, 2, 0)
		earlier := now.AddDate(0, 1, 0)

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			PaymentStatus: ptrTo(entitlement.PaymentActive),
			ValidUntil:    ptrTo(later),
		})
		require.NoError(t, err)

		e, err := store.Upsert(ctx, accountID, entitlement.Patch{
			ValidUntil:          ptrTo(earlier),
			MonotonicValidUntil: true,
		})
		require.NoError(t, err)
		assert.Equal(t, later, e.ValidUntil, "out-of-order renewal must not shorten the window")

		// Without the flag the write is last-writer-wins, used by cancel.
		e, err = store.Upsert(ctx, accountID, entitlement.Patch{
			ValidUntil: ptrTo(earlier),
		})
		require.NoError(t, err)
		assert.Equal(t, earlier, e.ValidUntil)
	})

	t.Run("empty features slice clears flags, nil keeps them", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		accountID := uuid.New()

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{
			Features: []plan.Feature{plan.FeatureAdvancedAnalysis},
		})
		require.NoError(t, err)

		e, err := store.Upsert(ctx, accountID, entitlement.Patch{})
		require.NoError(t, err)
		assert.Len(t, e.Features, 1)

		e, err = store.Upsert(ctx, accountID, entitlement.Patch{Features: []plan.Feature{}})
		require.NoError(t, err)
		assert.Empty(t, e.Features)
	})
}

func TestMemoryStore_CreateIfAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("creates once and only once", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		accountID := uuid.New()
		e := &entitlement.Entitlement{AccountID: accountID, Plan: plan.TierFree, Quota: 1}

		created, err := store.CreateIfAbsent(ctx, e)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.CreateIfAbsent(ctx, e)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("rejects nil account", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		_, err := store.CreateIfAbsent(ctx, &entitlement.Entitlement{})
		assert.ErrorIs(t, err, entitlement.ErrMissingAccount)
	})
}

func TestMemoryStore_ExtendValidity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("extends from valid_until when still active", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)
		accountID := uuid.New()
		until := now.Add(24 * time.Hour)

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{ValidUntil: ptrTo(until)})
		require.NoError(t, err)

		e, err := store.ExtendValidity(ctx, accountID, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, until.Add(48*time.Hour), e.ValidUntil)
	})

	t.Run("extends from now when already lapsed", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)
		accountID := uuid.New()
		lapsed := now.Add(-24 * time.Hour)

		_, err := store.Upsert(ctx, accountID, entitlement.Patch{ValidUntil: ptrTo(lapsed)})
		require.NoError(t, err)

		e, err := store.ExtendValidity(ctx, accountID, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, now.Add(48*time.Hour), e.ValidUntil)
	})

	t.Run("fails for unknown account", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		_, err := store.ExtendValidity(ctx, uuid.New(), time.Hour)
		assert.ErrorIs(t, err, entitlement.ErrNotFound)
	})
}

func TestMemoryStore_Listings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ListExpiringPaid returns provider-managed rows in the window", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)

		expiring := uuid.New()
		_, err := store.Upsert(ctx, expiring, entitlement.Patch{
			BillingSubscriptionRef: ptrTo("sub_expiring"),
			ValidUntil:             ptrTo(now.Add(48 * time.Hour)),
		})
		require.NoError(t, err)

		farOut := uuid.New()
		_, err = store.Upsert(ctx, farOut, entitlement.Patch{
			BillingSubscriptionRef: ptrTo("sub_far"),
			ValidUntil:             ptrTo(now.AddDate(0, 6, 0)),
		})
		require.NoError(t, err)

		noSub := uuid.New()
		_, err = store.Upsert(ctx, noSub, entitlement.Patch{
			ValidUntil: ptrTo(now.Add(48 * time.Hour)),
		})
		require.NoError(t, err)

		got, err := store.ListExpiringPaid(ctx, now, now.Add(7*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, expiring, got[0].AccountID)
	})

	t.Run("ListLapsedTrials skips accounts that gained a subscription", func(t *testing.T) {
		t.Parallel()
		store := entitlement.NewMemoryStore()
		store.Now = fixedClock(now)

		lapsed := uuid.New()
		_, err := store.Upsert(ctx, lapsed, entitlement.Patch{
			ValidUntil: ptrTo(now.Add(-time.Hour)),
			Source:     ptrTo(entitlement.SourceTrial),
		})
		require.NoError(t, err)

		converted := uuid.New()
		_, err = store.Upsert(ctx, converted, entitlement.Patch{
			ValidUntil:             ptrTo(now.Add(-time.Hour)),
			Source:                 ptrTo(entitlement.SourceTrial),
			BillingSubscriptionRef: ptrTo("sub_conv"),
		})
		require.NoError(t, err)

		fabricated := uuid.New()
		_, err = store.Upsert(ctx, fabricated, entitlement.Patch{
			BillingCustomerRef: ptrTo("ctm_checkout"),
		})
		require.NoError(t, err)

		got, err := store.ListLapsedTrials(ctx, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, lapsed, got[0].AccountID)
	})
}
