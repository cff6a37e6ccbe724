package cache

import (
	"context"
	"sync"
	"time"

	"github.com/GrowPals/cartsync/internal/domain"
)

type memoryEntry struct {
	cart      *domain.Cart
	fetchedAt time.Time
}

// MemoryCache is an in-process CartCache with a staleness window. It is
// an owned, injectable component so tests can build isolated instances.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	staleAfter time.Duration
	now        func() time.Time
}

// NewMemoryCache creates a cache whose snapshots go stale after
// staleAfter.
func NewMemoryCache(staleAfter time.Duration) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]memoryEntry),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// Get returns a deep copy of the cached snapshot. Callers never share
// item slices with the cached copy.
func (c *MemoryCache) Get(_ context.Context, ownerID string) (*domain.Cart, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ownerID]
	if !ok {
		return nil, ErrCacheMiss
	}
	return e.cart.Clone(), nil
}

func (c *MemoryCache) Set(_ context.Context, ownerID string, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ownerID] = memoryEntry{cart: cart.Clone(), fetchedAt: c.now()}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ownerID)
	return nil
}

func (c *MemoryCache) IsStale(_ context.Context, ownerID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ownerID]
	if !ok {
		return true
	}
	return c.now().Sub(e.fetchedAt) > c.staleAfter
}
