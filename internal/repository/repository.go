package repository

import (
	"context"
	"errors"

	"github.com/GrowPals/cartsync/internal/domain"
)

// CartRepository is the boundary to the remote cart store. Consumers
// define this interface, not the storage implementations.
//
// Every successful write is durable server-side before the call returns.
type CartRepository interface {
	// GetCart returns the persisted cart for ownerID. A missing cart is
	// reported as ErrCartNotFound; callers treat it as an empty cart.
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)

	// UpsertItem sets the absolute quantity for one product line.
	// Quantity must be >= 1.
	UpsertItem(ctx context.Context, ownerID, productID string, quantity int) error

	// RemoveItem deletes one product line. Removing an absent line is
	// not an error.
	RemoveItem(ctx context.Context, ownerID, productID string) error

	// ClearCart deletes every line for ownerID.
	ClearCart(ctx context.Context, ownerID string) error
}

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrItemUnavailable = errors.New("product is no longer available")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")
	ErrUnauthenticated = errors.New("no authenticated owner")
	ErrConflictStale   = errors.New("cart changed concurrently, refetch required")
)

// IsTerminal reports whether err is a definitive rejection that must not
// be retried. Everything outside this set is treated as transient.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrItemUnavailable) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrConflictStale) ||
		errors.Is(err, ErrCartNotFound)
}
