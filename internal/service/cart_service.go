package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GrowPals/cartsync/internal/cache"
	"github.com/GrowPals/cartsync/internal/domain"
	"github.com/GrowPals/cartsync/internal/repository"
)

// EventPublisher announces confirmed cart changes to other sessions of
// the same organization. The payload is advisory only; receivers refetch.
type EventPublisher interface {
	CartChanged(ctx context.Context, ownerID string) error
}

// Config tunes the coordinator. Staleness and retry magnitudes are
// tuning constants, not correctness constants.
type Config struct {
	TaxRate              float64
	MaxRetries           uint64
	RetryInitialInterval time.Duration
	RemoteTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.TaxRate == 0 {
		c.TaxRate = domain.DefaultTaxRate
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = 100 * time.Millisecond
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = 10 * time.Second
	}
	return c
}

// CartService coordinates optimistic cart mutations: it is the only
// writer of the cart cache. Mutations apply locally first, then confirm
// against the remote store; on failure the affected line is rolled back.
//
// Mutations on the same product are strictly serialized in issue order.
// Mutations on different products run concurrently.
type CartService struct {
	repo   repository.CartRepository
	cache  cache.CartCache
	events EventPublisher
	log    *zap.Logger
	cfg    Config
	sfg    singleflight.Group // prevents refetch stampede per owner

	mu     sync.Mutex
	owners map[string]*ownerState
}

// ownerState tracks in-flight work for one owner. Epoch is bumped by
// destructive bulk operations (clear, sign-out reset); completions
// carrying a stale epoch never touch the cache. Seq advances on every
// issued mutation so a failed clear can tell whether anything newer
// touched the snapshot. The snap mutex serializes every snapshot
// read-modify-write for the owner; without it, concurrent mutations on
// different products overwrite each other's cache edits.
type ownerState struct {
	epoch              uint64
	seq                uint64
	pending            int
	deferredInvalidate bool
	snap               sync.Mutex
	queues             map[string]chan struct{} // productID -> queue tail
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, events EventPublisher, log *zap.Logger, cfg Config) *CartService {
	return &CartService{
		repo:   repo,
		cache:  cache,
		events: events,
		log:    log,
		cfg:    cfg.withDefaults(),
		owners: make(map[string]*ownerState),
	}
}

// GetCart returns the current snapshot for ownerID: the cached one while
// fresh (or while optimistic edits are confirming), otherwise a refetch
// from the remote store. A missing remote cart is an empty cart.
func (s *CartService) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	if ownerID == "" {
		return nil, repository.ErrUnauthenticated
	}

	cached, err := s.cache.Get(ctx, ownerID)
	if err == nil && (!s.cache.IsStale(ctx, ownerID) || s.hasPending(ownerID)) {
		return cached, nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("cache get error", zap.String("owner_id", ownerID), zap.Error(err))
	}

	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		fetched, err := s.fetchRemote(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		// Never overwrite an optimistic edit that is still confirming.
		// Re-checked under the snapshot lock: a mutation enqueued after
		// the fetch must not lose its edit to this stale read.
		lock := s.snapshotLock(ownerID)
		lock.Lock()
		if !s.hasPending(ownerID) {
			if err := s.cache.Set(ctx, ownerID, fetched); err != nil {
				s.log.Warn("cache set error", zap.String("owner_id", ownerID), zap.Error(err))
			}
		}
		lock.Unlock()
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart).Clone(), nil
}

// Totals derives item count, subtotal, tax and grand total from the
// current snapshot.
func (s *CartService) Totals(ctx context.Context, ownerID string) (domain.Totals, error) {
	cart, err := s.GetCart(ctx, ownerID)
	if err != nil {
		return domain.Totals{}, err
	}
	return domain.CalculateTotals(cart, s.cfg.TaxRate), nil
}

// InvalidateExternal handles a "cart changed elsewhere" hint. The pushed
// payload is never applied as state; the cache is invalidated and the
// snapshot refetched. If a local mutation is still confirming, the
// refetch is deferred until the last pending mutation resolves so an
// optimistic edit about to become authoritative is not discarded.
func (s *CartService) InvalidateExternal(ctx context.Context, ownerID string) {
	if ownerID == "" {
		return
	}
	s.mu.Lock()
	os := s.ownerLocked(ownerID)
	if os.pending > 0 {
		os.deferredInvalidate = true
		s.mu.Unlock()
		s.log.Debug("deferred external invalidation", zap.String("owner_id", ownerID))
		return
	}
	s.mu.Unlock()
	s.invalidateAndRefetch(ownerID)
}

// Reset hard-resets all state for ownerID on sign-out. In-flight
// confirmations still resolve against the remote store but can no longer
// touch the cache.
func (s *CartService) Reset(ctx context.Context, ownerID string) {
	s.mu.Lock()
	os := s.ownerLocked(ownerID)
	os.epoch++
	os.seq++
	os.deferredInvalidate = false
	s.mu.Unlock()

	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.log.Warn("cache invalidate error", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func (s *CartService) fetchRemote(ctx context.Context, ownerID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, ownerID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.Empty(ownerID), nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) invalidateAndRefetch(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
	defer cancel()

	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.log.Warn("cache invalidate error", zap.String("owner_id", ownerID), zap.Error(err))
	}
	if _, err := s.GetCart(ctx, ownerID); err != nil {
		s.log.Warn("refetch after invalidation failed", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func (s *CartService) hasPending(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.owners[ownerID]
	return ok && os.pending > 0
}

// ownerLocked returns the state for ownerID, creating it if needed.
// Caller holds s.mu. Owner states are never deleted: the epoch must
// outlive the owner's mutations to keep the stale-completion guard.
func (s *CartService) ownerLocked(ownerID string) *ownerState {
	os, ok := s.owners[ownerID]
	if !ok {
		os = &ownerState{queues: make(map[string]chan struct{})}
		s.owners[ownerID] = os
	}
	return os
}
