package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const orderColumns = `o.id, o.user_id, o.total_price, COALESCE(o.discount_code, ''), o.discount_amount,
	o.status, o.shipping_address, o.payment_method, o.created_at, o.updated_at`

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, total_price, discount_code, discount_amount,
		status, shipping_address, payment_method, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	createOrderLineSQL = `INSERT INTO order_lines (order_id, product_id, quantity, unit_price)
	VALUES ($1, $2, $3, $4)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1`

	// $1 matches orders placed by a buyer, $2 orders with at least one line
	// sold by a seller. Both empty lists everything.
	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders o
	WHERE ($1 = '' AND $2 = '')
	   OR ($1 <> '' AND o.user_id = $1)
	   OR ($2 <> '' AND EXISTS (
		SELECT 1 FROM order_lines ol
		JOIN products p ON p.id = ol.product_id
		WHERE ol.order_id = o.id AND p.seller_id = $2))
	ORDER BY o.created_at DESC, o.id`

	listOrderLinesSQL = `SELECT ol.order_id, COALESCE(ol.product_id, ''), COALESCE(p.name, ''),
		COALESCE(p.seller_id, ''), ol.quantity, ol.unit_price
	FROM order_lines ol
	LEFT JOIN products p ON p.id = ol.product_id
	WHERE ol.order_id = ANY($1)
	ORDER BY ol.id`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	hasFulfilledOrderSQL = `SELECT EXISTS (
		SELECT 1 FROM orders WHERE user_id = $1 AND status IN ('shipped', 'completed'))`
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ discount.OrderHistory = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db *Store
}

// NewOrderRepository returns an OrderRepository on the store.
func NewOrderRepository(db *Store) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order and its lines. Call it inside a transaction so
// that a failed line insert does not leave an order without lines.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("order id %q: %w", o.ID, err)
	}

	b := &pgx.Batch{}
	b.Queue(createOrderSQL,
		id, o.UserID, o.Total.Round(2), nullString(o.DiscountCode), o.DiscountAmount.Round(2),
		string(o.Status), o.ShippingAddress, o.PaymentMethod, o.CreatedAt, o.UpdatedAt,
	)
	for _, l := range o.Lines {
		b.Queue(createOrderLineSQL, id, nullString(l.ProductID), l.Quantity, l.UnitPrice.Round(2))
	}

	if err := r.db.q(ctx).SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns one order with its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return nil, order.ErrNotFound
	}

	rows, err := r.db.q(ctx).Query(ctx, getOrderSQL, oid)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	orders := []order.Order{o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	rows, err := r.db.q(ctx).Query(ctx, listOrdersSQL, f.UserID, f.SellerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = uuid.MustParse(o.ID)
		index[o.ID] = i
	}

	rows, err := r.db.q(ctx).Query(ctx, listOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ProductID, &l.Name, &l.SellerID, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		i := index[orderID.String()]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	return nil
}

// UpdateStatus moves the order to `to` only if it is still in `from`.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	oid, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}
	tag, err := r.db.q(ctx).Exec(ctx, updateOrderStatusSQL, oid, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// HasFulfilledOrder reports whether the user has a shipped or completed order.
func (r *OrderRepository) HasFulfilledOrder(ctx context.Context, userID string) (bool, error) {
	var ok bool
	if err := r.db.q(ctx).QueryRow(ctx, hasFulfilledOrderSQL, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking order history of %q: %w", userID, err)
	}
	return ok, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		id     uuid.UUID
		status string
	)
	err := row.Scan(
		&id, &o.UserID, &o.Total, &o.DiscountCode, &o.DiscountAmount,
		&status, &o.ShippingAddress, &o.PaymentMethod, &o.CreatedAt, &o.UpdatedAt,
	)
	o.ID = id.String()
	o.Status = order.Status(status)
	return o, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
