package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/discount"
)

const discountColumns = `code, discount_amount, is_active, valid_from, valid_until,
	is_first_order_only, min_order_value, max_usage, usage_count, created_at`

const (
	getDiscountSQL = `SELECT ` + discountColumns + ` FROM discount_codes WHERE code = $1`

	lockDiscountSQL = getDiscountSQL + ` FOR UPDATE`

	// The guard makes the increment a compare-and-swap even without the row lock.
	incrementDiscountSQL = `UPDATE discount_codes SET usage_count = usage_count + 1
		WHERE code = $1 AND (max_usage = 0 OR usage_count < max_usage)`

	createDiscountSQL = `INSERT INTO discount_codes (` + discountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	listDiscountsSQL = `SELECT ` + discountColumns + ` FROM discount_codes ORDER BY created_at DESC, code`

	deactivateDiscountSQL = `UPDATE discount_codes SET is_active = FALSE WHERE code = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	db *Store
}

// NewDiscountRepository returns a DiscountRepository on the store.
func NewDiscountRepository(db *Store) *DiscountRepository {
	return &DiscountRepository{db: db}
}

// FindByCode reads a code without locking it.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	return r.find(ctx, getDiscountSQL, code)
}

// FindForUpdate reads a code and locks its row until the transaction ends.
func (r *DiscountRepository) FindForUpdate(ctx context.Context, code string) (*discount.Code, error) {
	return r.find(ctx, lockDiscountSQL, code)
}

func (r *DiscountRepository) find(ctx context.Context, sql, code string) (*discount.Code, error) {
	rows, err := r.db.q(ctx).Query(ctx, sql, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount code %q: %w", code, err)
	}
	return &c, nil
}

// IncrementUsage claims one use. It reports false when the limit was reached.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, code string) (bool, error) {
	tag, err := r.db.q(ctx).Exec(ctx, incrementDiscountSQL, code)
	if err != nil {
		return false, fmt.Errorf("incrementing usage of %q: %w", code, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Create inserts a new code.
func (r *DiscountRepository) Create(ctx context.Context, c *discount.Code) error {
	_, err := r.db.q(ctx).Exec(ctx, createDiscountSQL,
		c.Code, c.Amount.Round(2), c.Active, c.ValidFrom, c.ValidUntil,
		c.FirstOrderOnly, c.MinOrderValue.Round(2), c.MaxUsage, c.UsageCount, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return discount.ErrDuplicate
		}
		return fmt.Errorf("creating discount code %q: %w", c.Code, err)
	}
	return nil
}

// List returns every code, newest first.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Code, error) {
	rows, err := r.db.q(ctx).Query(ctx, listDiscountsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing discount codes: %w", err)
	}
	return pgx.CollectRows(rows, scanDiscount)
}

// Deactivate turns a code off.
func (r *DiscountRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.db.q(ctx).Exec(ctx, deactivateDiscountSQL, code)
	if err != nil {
		return fmt.Errorf("deactivating discount code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Code, error) {
	var c discount.Code
	err := row.Scan(
		&c.Code, &c.Amount, &c.Active, &c.ValidFrom, &c.ValidUntil,
		&c.FirstOrderOnly, &c.MinOrderValue, &c.MaxUsage, &c.UsageCount, &c.CreatedAt,
	)
	return c, err
}
