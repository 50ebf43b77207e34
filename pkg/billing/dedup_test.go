package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptdir/entitlement/pkg/billing"
)

func TestMemoryDeduper(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := billing.NewMemoryDeduper()

	seen, err := d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.MarkProcessed(ctx, "evt_1"))

	seen, err = d.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = d.Seen(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)
}
