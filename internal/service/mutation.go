package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/cache"
	"github.com/GrowPals/cartsync/internal/domain"
	"github.com/GrowPals/cartsync/internal/repository"
)

type MutationKind string

const (
	MutationAdd         MutationKind = "add"
	MutationSetQuantity MutationKind = "set_quantity"
	MutationRemove      MutationKind = "remove"
	MutationClearAll    MutationKind = "clear_all"
)

// ErrSuperseded marks a mutation discarded because the cart was cleared
// or reset while it was queued.
var ErrSuperseded = errors.New("mutation superseded by a cart reset")

// Pending is the handle for an in-flight optimistic mutation. The local
// snapshot already reflects the change; Wait reports whether the remote
// store confirmed it or it was rolled back.
type Pending struct {
	Kind      MutationKind
	ProductID string

	done chan struct{}
	err  error
}

func newPending(kind MutationKind, productID string) *Pending {
	return &Pending{Kind: kind, ProductID: productID, done: make(chan struct{})}
}

// Wait blocks until the mutation is confirmed or rolled back, returning
// the rollback cause. ctx only bounds the wait; cancelling it does not
// cancel the confirmation.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the mutation has resolved either way.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

type mutation struct {
	kind      MutationKind
	ownerID   string
	productID string
	item      domain.CartItem // add: delta quantity plus display fields
	quantity  int             // absolute target for the remote upsert
	epoch     uint64
	pending   *Pending
}

// AddItem increments the owner's quantity for item.ProductID by
// item.Quantity (adding the line at that quantity when absent). The
// item's name and unit price are used for optimistic display only.
func (s *CartService) AddItem(ctx context.Context, ownerID string, item domain.CartItem) (*Pending, error) {
	if ownerID == "" {
		return nil, repository.ErrUnauthenticated
	}
	if item.ProductID == "" || item.Quantity < 1 {
		return nil, repository.ErrInvalidQuantity
	}
	m := &mutation{
		kind:      MutationAdd,
		ownerID:   ownerID,
		productID: item.ProductID,
		item:      item,
		pending:   newPending(MutationAdd, item.ProductID),
	}
	s.enqueue(m)
	return m.pending, nil
}

// UpdateQuantity sets the absolute quantity for productID. A quantity
// below 1 means removal: an item never sits in the cart at quantity 0.
func (s *CartService) UpdateQuantity(ctx context.Context, ownerID, productID string, quantity int) (*Pending, error) {
	if ownerID == "" {
		return nil, repository.ErrUnauthenticated
	}
	if productID == "" {
		return nil, repository.ErrInvalidQuantity
	}
	if quantity < 1 {
		return s.RemoveItem(ctx, ownerID, productID)
	}
	m := &mutation{
		kind:      MutationSetQuantity,
		ownerID:   ownerID,
		productID: productID,
		quantity:  quantity,
		pending:   newPending(MutationSetQuantity, productID),
	}
	s.enqueue(m)
	return m.pending, nil
}

// RemoveItem drops productID from the cart. Removing an absent line
// confirms without error.
func (s *CartService) RemoveItem(ctx context.Context, ownerID, productID string) (*Pending, error) {
	if ownerID == "" {
		return nil, repository.ErrUnauthenticated
	}
	if productID == "" {
		return nil, repository.ErrInvalidQuantity
	}
	m := &mutation{
		kind:      MutationRemove,
		ownerID:   ownerID,
		productID: productID,
		pending:   newPending(MutationRemove, productID),
	}
	s.enqueue(m)
	return m.pending, nil
}

// ClearCart empties the cart. The owner's epoch is bumped first so any
// still-confirming per-item mutation resolves without resurrecting its
// line, and queued mutations abort as superseded.
func (s *CartService) ClearCart(ctx context.Context, ownerID string) (*Pending, error) {
	if ownerID == "" {
		return nil, repository.ErrUnauthenticated
	}

	p := newPending(MutationClearAll, "")

	lock := s.snapshotLock(ownerID)
	lock.Lock()

	bctx, cancel := s.cacheContext()
	prev, err := s.cache.Get(bctx, ownerID)
	if err != nil {
		prev = nil // nothing to roll back to; failure path invalidates instead
	}

	s.mu.Lock()
	os := s.ownerLocked(ownerID)
	os.epoch++
	os.seq++
	epoch := os.epoch
	seq := os.seq
	os.pending++
	s.mu.Unlock()

	if err := s.cache.Set(bctx, ownerID, domain.Empty(ownerID)); err != nil {
		s.log.Warn("cache set error", zap.String("owner_id", ownerID), zap.Error(err))
	}
	cancel()
	lock.Unlock()

	go s.runClear(ownerID, epoch, seq, prev, p)
	return p, nil
}

func (s *CartService) enqueue(m *mutation) {
	s.mu.Lock()
	os := s.ownerLocked(m.ownerID)
	m.epoch = os.epoch
	os.seq++
	os.pending++
	turn := os.queues[m.productID]
	ticket := make(chan struct{})
	os.queues[m.productID] = ticket
	s.mu.Unlock()

	go s.run(m, turn, ticket)
}

// run drives one mutation through Optimistic -> Confirming and then
// either Idle (confirmed) or RolledBack. turn is the predecessor's
// ticket on the same product; waiting on it is what enforces per-key
// FIFO.
func (s *CartService) run(m *mutation, turn <-chan struct{}, ticket chan struct{}) {
	defer func() {
		s.mu.Lock()
		if os := s.owners[m.ownerID]; os != nil && os.queues[m.productID] == ticket {
			delete(os.queues, m.productID)
		}
		s.mu.Unlock()
		close(ticket)
	}()

	if turn != nil {
		<-turn
	}

	if !s.epochCurrent(m.ownerID, m.epoch) {
		s.finish(m, ErrSuperseded)
		return
	}

	prevItem, err := s.applyOptimistic(m)
	if err != nil {
		s.finish(m, err)
		return
	}

	err = s.confirmRemote(m)
	if err != nil {
		s.rollback(m, prevItem, err)
		s.finish(m, err)
		return
	}

	if s.epochCurrent(m.ownerID, m.epoch) {
		s.publishChanged(m.ownerID)
	}
	s.finish(m, nil)
}

func (s *CartService) runClear(ownerID string, epoch, seq uint64, prev *domain.Cart, p *Pending) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
	err := s.withRetry(func() error {
		return s.repo.ClearCart(ctx, ownerID)
	})
	cancel()

	if err != nil {
		lock := s.snapshotLock(ownerID)
		lock.Lock()
		bctx, bcancel := s.cacheContext()
		switch {
		case s.seqCurrent(ownerID, seq) && prev != nil:
			// Nothing else was issued since the clear; the pre-clear
			// snapshot is still the right restore target.
			if serr := s.cache.Set(bctx, ownerID, prev); serr != nil {
				s.log.Warn("cache set error", zap.String("owner_id", ownerID), zap.Error(serr))
			}
		case s.epochCurrent(ownerID, epoch):
			// A mutation issued after the clear already edited the
			// snapshot; restoring the old one would clobber it. Force a
			// refetch instead.
			if ierr := s.cache.Invalidate(bctx, ownerID); ierr != nil {
				s.log.Warn("cache invalidate error", zap.String("owner_id", ownerID), zap.Error(ierr))
			}
		}
		bcancel()
		lock.Unlock()
	} else if s.epochCurrent(ownerID, epoch) {
		s.publishChanged(ownerID)
	}

	m := &mutation{kind: MutationClearAll, ownerID: ownerID, epoch: epoch, pending: p}
	s.finish(m, err)
}

// applyOptimistic mutates the cached snapshot before any network round
// trip and returns the product line's prior state for rollback (nil when
// the line did not exist). The whole read-modify-write runs under the
// owner's snapshot lock so a concurrent mutation on another product
// cannot have its edit erased by this one's stale read.
func (s *CartService) applyOptimistic(m *mutation) (*domain.CartItem, error) {
	lock := s.snapshotLock(m.ownerID)
	lock.Lock()
	defer lock.Unlock()

	bctx, cancel := s.cacheContext()
	defer cancel()

	cart, err := s.cache.Get(bctx, m.ownerID)
	if errors.Is(err, cache.ErrCacheMiss) {
		fctx, fcancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
		cart, err = s.fetchRemote(fctx, m.ownerID)
		fcancel()
	}
	if err != nil {
		return nil, err
	}

	// A clear that slipped in while this mutation waited for the lock
	// owns the snapshot now.
	if !s.epochCurrent(m.ownerID, m.epoch) {
		return nil, ErrSuperseded
	}

	var prev *domain.CartItem
	if existing, ok := cart.Item(m.productID); ok {
		cp := existing
		prev = &cp
	}

	switch m.kind {
	case MutationAdd:
		m.quantity = cart.ItemQuantity(m.productID) + m.item.Quantity
		if prev != nil {
			line := *prev
			line.Quantity = m.quantity
			cart.Upsert(line)
		} else {
			line := m.item
			line.Quantity = m.quantity
			line.AddedAt = time.Now()
			cart.Upsert(line)
		}
	case MutationSetQuantity:
		if prev != nil {
			line := *prev
			line.Quantity = m.quantity
			cart.Upsert(line)
		} else {
			// Unknown line: the remote upsert will create it; price and
			// name arrive with the next refetch.
			cart.Upsert(domain.CartItem{
				ProductID: m.productID,
				Quantity:  m.quantity,
				AddedAt:   time.Now(),
			})
		}
	case MutationRemove:
		cart.Remove(m.productID)
	}
	cart.UpdatedAt = time.Now()

	if err := s.cache.Set(bctx, m.ownerID, cart); err != nil {
		s.log.Warn("cache set error", zap.String("owner_id", m.ownerID), zap.Error(err))
	}
	return prev, nil
}

func (s *CartService) confirmRemote(m *mutation) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
	defer cancel()

	return s.withRetry(func() error {
		switch m.kind {
		case MutationAdd, MutationSetQuantity:
			return s.repo.UpsertItem(ctx, m.ownerID, m.productID, m.quantity)
		case MutationRemove:
			return s.repo.RemoveItem(ctx, m.ownerID, m.productID)
		}
		return nil
	})
}

// rollback restores the affected line's pre-mutation state. Only the one
// line is touched so a concurrent optimistic edit on another product is
// never clobbered by an older snapshot.
func (s *CartService) rollback(m *mutation, prevItem *domain.CartItem, cause error) {
	lock := s.snapshotLock(m.ownerID)
	lock.Lock()
	defer lock.Unlock()

	if !s.epochCurrent(m.ownerID, m.epoch) {
		return
	}

	bctx, cancel := s.cacheContext()
	defer cancel()

	if errors.Is(cause, repository.ErrConflictStale) {
		// The line's server state is unknown now; force a full refetch
		// before further edits.
		if err := s.cache.Invalidate(bctx, m.ownerID); err != nil {
			s.log.Warn("cache invalidate error", zap.String("owner_id", m.ownerID), zap.Error(err))
		}
		return
	}

	cart, err := s.cache.Get(bctx, m.ownerID)
	if err != nil {
		return
	}
	if prevItem == nil {
		cart.Remove(m.productID)
	} else {
		cart.Upsert(*prevItem)
	}
	if err := s.cache.Set(bctx, m.ownerID, cart); err != nil {
		s.log.Warn("cache set error", zap.String("owner_id", m.ownerID), zap.Error(err))
	}
}

// withRetry retries transient failures with exponential backoff, bounded
// by MaxRetries. Terminal rejections fail immediately.
func (s *CartService) withRetry(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.RetryInitialInterval

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if repository.IsTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(bo, s.cfg.MaxRetries))
}

func (s *CartService) finish(m *mutation, err error) {
	if err != nil && !errors.Is(err, ErrSuperseded) {
		s.log.Warn("cart mutation rolled back",
			zap.String("owner_id", m.ownerID),
			zap.String("kind", string(m.kind)),
			zap.String("product_id", m.productID),
			zap.Error(err))
	}
	m.pending.resolve(err)

	s.mu.Lock()
	os := s.owners[m.ownerID]
	os.pending--
	runDeferred := os.pending == 0 && os.deferredInvalidate
	if runDeferred {
		os.deferredInvalidate = false
	}
	s.mu.Unlock()

	if runDeferred {
		s.invalidateAndRefetch(m.ownerID)
	}
}

func (s *CartService) publishChanged(ownerID string) {
	if s.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.events.CartChanged(ctx, ownerID); err != nil {
		s.log.Warn("failed to publish cart change", zap.String("owner_id", ownerID), zap.Error(err))
	}
}

func (s *CartService) epochCurrent(ownerID string, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.owners[ownerID]
	return ok && os.epoch == epoch
}

func (s *CartService) seqCurrent(ownerID string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	os, ok := s.owners[ownerID]
	return ok && os.seq == seq
}

// snapshotLock returns the mutex guarding snapshot read-modify-write
// cycles for ownerID. Lock order is always snap before s.mu.
func (s *CartService) snapshotLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &s.ownerLocked(ownerID).snap
}

func (s *CartService) cacheContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}
