package cache

import (
	"context"
	"errors"

	"github.com/GrowPals/cartsync/internal/domain"
)

// CartCache holds the last known-good snapshot per owner. Set always
// fully replaces a snapshot, never merges, so a cached cart can not
// drift into a partial state.
type CartCache interface {
	Get(ctx context.Context, ownerID string) (*domain.Cart, error)
	Set(ctx context.Context, ownerID string, cart *domain.Cart) error
	Invalidate(ctx context.Context, ownerID string) error

	// IsStale reports whether the snapshot for ownerID is outside the
	// staleness window (or missing). Staleness is a freshness hint, not
	// a consistency guarantee.
	IsStale(ctx context.Context, ownerID string) bool
}

var ErrCacheMiss = errors.New("cache miss")
