package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/GrowPals/cartsync/internal/domain"
)

type postgresRepository struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresRepository returns a CartRepository over the relational
// schema (user_cart_items joined with products).
func NewPostgresRepository(db *sql.DB, log *zap.Logger) CartRepository {
	return &postgresRepository{db: db, log: log}
}

func (r *postgresRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT product_id, quantity, created_at
		   FROM user_cart_items
		  WHERE owner_id = $1
		  ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	type row struct {
		productID string
		quantity  int
		addedAt   time.Time
	}
	var lines []row
	for rows.Next() {
		var l row
		if err := rows.Scan(&l.productID, &l.quantity, &l.addedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cart items: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrCartNotFound
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.productID
	}

	// Unit prices are snapshotted at read time from the catalog, active
	// products only.
	type product struct {
		name  string
		price float64
	}
	products := make(map[string]product, len(ids))
	prows, err := r.db.QueryContext(ctx,
		`SELECT id, name, unit_price
		   FROM products
		  WHERE id = ANY($1) AND is_active`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var id string
		var p product
		if err := prows.Scan(&id, &p.name, &p.price); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products[id] = p
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read products: %w", err)
	}

	cart := domain.Empty(ownerID)
	var pruned []string
	for _, l := range lines {
		p, ok := products[l.productID]
		if !ok {
			pruned = append(pruned, l.productID)
			continue
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ProductID: l.productID,
			Name:      p.name,
			Quantity:  l.quantity,
			UnitPrice: p.price,
			AddedAt:   l.addedAt,
		})
	}

	// Lines whose product was deactivated or deleted are dropped from
	// the persisted cart so they never come back on the next fetch.
	if len(pruned) > 0 {
		r.log.Warn("pruning unavailable products from cart",
			zap.String("owner_id", ownerID), zap.Strings("product_ids", pruned))
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM user_cart_items WHERE owner_id = $1 AND product_id = ANY($2)`,
			ownerID, pq.Array(pruned)); err != nil {
			r.log.Error("failed to prune cart items", zap.Error(err))
		}
	}

	if len(cart.Items) == 0 {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

func (r *postgresRepository) UpsertItem(ctx context.Context, ownerID, productID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	var active bool
	err := r.db.QueryRowContext(ctx,
		`SELECT is_active FROM products WHERE id = $1`, productID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrItemUnavailable
	}
	if err != nil {
		return fmt.Errorf("failed to check product: %w", err)
	}
	if !active {
		return ErrItemUnavailable
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO user_cart_items (owner_id, product_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (owner_id, product_id)
		 DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = now()`,
		ownerID, productID, quantity)
	if err != nil {
		return fmt.Errorf("failed to upsert cart item: %w", err)
	}
	return nil
}

func (r *postgresRepository) RemoveItem(ctx context.Context, ownerID, productID string) error {
	// Idempotent: zero rows affected is fine.
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_cart_items WHERE owner_id = $1 AND product_id = $2`,
		ownerID, productID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

func (r *postgresRepository) ClearCart(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM user_cart_items WHERE owner_id = $1`, ownerID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
