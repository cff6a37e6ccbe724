package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrowPals/cartsync/internal/domain"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := NewRedisCache(client, 30*time.Second)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return cache, mr, cleanup
}

func TestRedisGet_Success(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	cart := domain.Empty("owner-1")
	cart.Upsert(domain.CartItem{ProductID: "A", Quantity: 2, UnitPrice: 3.25})

	cartJSON, err := json.Marshal(cart)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("owner-1"), string(cartJSON)))

	got, err := cache.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, cart.Items, got.Items)
	assert.False(t, cache.IsStale(ctx, "owner-1"))
}

func TestRedisGet_Miss(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	_, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.True(t, cache.IsStale(context.Background(), "nobody"))
}

func TestRedisSet_RoundTripAndTTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	cart := domain.Empty("owner-1")
	cart.Upsert(domain.CartItem{ProductID: "A", Quantity: 1, UnitPrice: 9.99})

	require.NoError(t, cache.Set(ctx, "owner-1", cart))

	got, err := cache.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, cart.Items, got.Items)

	ttl := mr.TTL(cacheKey("owner-1"))
	assert.GreaterOrEqual(t, ttl, 30*time.Second)
	assert.LessOrEqual(t, ttl, 33*time.Second)
}

func TestRedisSet_ExpiredKeyIsStale(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "owner-1", domain.Empty("owner-1")))

	mr.FastForward(40 * time.Second)

	assert.True(t, cache.IsStale(ctx, "owner-1"))
	_, err := cache.Get(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisInvalidate(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "owner-1", domain.Empty("owner-1")))
	require.NoError(t, cache.Invalidate(ctx, "owner-1"))

	_, err := cache.Get(ctx, "owner-1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, cache.Invalidate(ctx, "owner-1"))
}
