package listing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/promptdir/entitlement/pkg/listing"
)

func TestListing_RefreshStatusAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	window := listing.DefaultFreshnessWindow

	t.Run("never refreshed is stale", func(t *testing.T) {
		t.Parallel()
		l := &listing.Listing{}
		assert.Equal(t, listing.RefreshStale, l.RefreshStatusAt(now, window))
	})

	t.Run("refreshed 89 days ago is fresh", func(t *testing.T) {
		t.Parallel()
		at := now.Add(-89 * 24 * time.Hour)
		l := &listing.Listing{LastRefreshedAt: &at}
		assert.Equal(t, listing.RefreshFresh, l.RefreshStatusAt(now, window))
	})

	t.Run("refreshed exactly 90 days ago is stale", func(t *testing.T) {
		t.Parallel()
		at := now.Add(-90 * 24 * time.Hour)
		l := &listing.Listing{LastRefreshedAt: &at}
		assert.Equal(t, listing.RefreshStale, l.RefreshStatusAt(now, window))
	})
}

func TestListing_Boosted(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("no boost", func(t *testing.T) {
		t.Parallel()
		l := &listing.Listing{}
		assert.False(t, l.Boosted(now))
	})

	t.Run("active boost", func(t *testing.T) {
		t.Parallel()
		until := now.Add(time.Hour)
		l := &listing.Listing{BoostedUntil: &until}
		assert.True(t, l.Boosted(now))
	})

	t.Run("expired boost", func(t *testing.T) {
		t.Parallel()
		until := now.Add(-time.Hour)
		l := &listing.Listing{BoostedUntil: &until}
		assert.False(t, l.Boosted(now))
	})
}
