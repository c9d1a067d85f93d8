package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	listCartSQL = `SELECT c.product_id, p.name, p.seller_id, c.quantity, p.price
		FROM cart_lines c
		JOIN products p ON p.id = c.product_id
		WHERE c.user_id = $1
		ORDER BY c.created_at, c.product_id`

	addCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		WHERE cart_lines.quantity + EXCLUDED.quantity <= $4`

	setCartQuantitySQL = `UPDATE cart_lines SET quantity = $3 WHERE user_id = $1 AND product_id = $2`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db *Store
}

// NewCartRepository returns a CartRepository on the store.
func NewCartRepository(db *Store) *CartRepository {
	return &CartRepository{db: db}
}

// ListByUser returns the user's cart lines priced from the catalog.
func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := r.db.q(ctx).Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ProductID, &l.Name, &l.SellerID, &l.Quantity, &l.UnitPrice)
		return l, err
	})
}

// Add inserts a line or increments the existing one. An increment past
// cart.MaxQuantity leaves the line untouched.
func (r *CartRepository) Add(ctx context.Context, userID, productID string, qty int) error {
	tag, err := r.db.q(ctx).Exec(ctx, addCartLineSQL, userID, productID, qty, cart.MaxQuantity)
	if err != nil {
		return fmt.Errorf("adding %q to cart: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrInvalidQuantity
	}
	return nil
}

// SetQuantity replaces a line's quantity.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, productID string, qty int) (bool, error) {
	tag, err := r.db.q(ctx).Exec(ctx, setCartQuantitySQL, userID, productID, qty)
	if err != nil {
		return false, fmt.Errorf("updating cart line %q: %w", productID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Remove deletes one line.
func (r *CartRepository) Remove(ctx context.Context, userID, productID string) (bool, error) {
	tag, err := r.db.q(ctx).Exec(ctx, removeCartLineSQL, userID, productID)
	if err != nil {
		return false, fmt.Errorf("removing cart line %q: %w", productID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Clear deletes every line of the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.q(ctx).Exec(ctx, clearCartSQL, userID)
	if err != nil {
		return 0, fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}
