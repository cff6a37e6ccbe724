package repository

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/domain"
)

// breakerRepository wraps a CartRepository with a circuit breaker so a
// dead backend fails fast instead of stacking up timed-out confirmations.
// Terminal rejections are valid answers and do not count as failures.
type breakerRepository struct {
	inner CartRepository
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerRepository decorates inner with a circuit breaker. Open-state
// errors surface as-is and are treated as transient by callers.
func NewBreakerRepository(inner CartRepository, log *zap.Logger) CartRepository {
	settings := gobreaker.Settings{
		Name:        "cart-repository",
		MaxRequests: 3,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsTerminal(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &breakerRepository{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (b *breakerRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	v, err := b.cb.Execute(func() (any, error) {
		return b.inner.GetCart(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (b *breakerRepository) UpsertItem(ctx context.Context, ownerID, productID string, quantity int) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.UpsertItem(ctx, ownerID, productID, quantity)
	})
	return err
}

func (b *breakerRepository) RemoveItem(ctx context.Context, ownerID, productID string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.RemoveItem(ctx, ownerID, productID)
	})
	return err
}

func (b *breakerRepository) ClearCart(ctx context.Context, ownerID string) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.ClearCart(ctx, ownerID)
	})
	return err
}
