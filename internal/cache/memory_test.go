package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrowPals/cartsync/internal/domain"
)

func TestMemoryCache_MissAndHit(t *testing.T) {
	c := NewMemoryCache(30 * time.Second)
	ctx := context.Background()

	_, err := c.Get(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.True(t, c.IsStale(ctx, "owner-1"), "missing snapshot is stale")

	cart := domain.Empty("owner-1")
	cart.Upsert(domain.CartItem{ProductID: "A", Quantity: 2, UnitPrice: 1.50})
	require.NoError(t, c.Set(ctx, "owner-1", cart))

	got, err := c.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, cart.Items, got.Items)
	assert.False(t, c.IsStale(ctx, "owner-1"))
}

func TestMemoryCache_StalenessWindow(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache(30 * time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "owner-1", domain.Empty("owner-1")))
	assert.False(t, c.IsStale(ctx, "owner-1"))

	now = now.Add(29 * time.Second)
	assert.False(t, c.IsStale(ctx, "owner-1"))

	now = now.Add(2 * time.Second)
	assert.True(t, c.IsStale(ctx, "owner-1"))

	// A snapshot past the window is still readable; staleness is a
	// refetch hint, not an eviction.
	_, err := c.Get(ctx, "owner-1")
	assert.NoError(t, err)
}

func TestMemoryCache_SetReplacesWholeSnapshot(t *testing.T) {
	c := NewMemoryCache(30 * time.Second)
	ctx := context.Background()

	first := domain.Empty("owner-1")
	first.Upsert(domain.CartItem{ProductID: "A", Quantity: 1})
	first.Upsert(domain.CartItem{ProductID: "B", Quantity: 1})
	require.NoError(t, c.Set(ctx, "owner-1", first))

	second := domain.Empty("owner-1")
	second.Upsert(domain.CartItem{ProductID: "C", Quantity: 5})
	require.NoError(t, c.Set(ctx, "owner-1", second))

	got, err := c.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1, "set must replace, never merge")
	assert.Equal(t, "C", got.Items[0].ProductID)
}

func TestMemoryCache_GetReturnsCopy(t *testing.T) {
	c := NewMemoryCache(30 * time.Second)
	ctx := context.Background()

	cart := domain.Empty("owner-1")
	cart.Upsert(domain.CartItem{ProductID: "A", Quantity: 1})
	require.NoError(t, c.Set(ctx, "owner-1", cart))

	got, err := c.Get(ctx, "owner-1")
	require.NoError(t, err)
	got.Items[0].Quantity = 99

	again, err := c.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Items[0].Quantity)
}

func TestMemoryCache_Invalidate(t *testing.T) {
	c := NewMemoryCache(30 * time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "owner-1", domain.Empty("owner-1")))
	require.NoError(t, c.Invalidate(ctx, "owner-1"))

	_, err := c.Get(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Invalidating a missing entry is a no-op.
	assert.NoError(t, c.Invalidate(ctx, "owner-2"))
}
