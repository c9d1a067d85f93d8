package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	upsertUserSQL = `INSERT INTO users (id, email, name, role) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, user_id, name, active) VALUES ($1, $2, $3, $4, TRUE)
ON CONFLICT (id) DO UPDATE SET key_hash = EXCLUDED.key_hash, user_id = EXCLUDED.user_id,
	name = EXCLUDED.name, active = TRUE`

	upsertProductSQL = `INSERT INTO products (id, name, price, seller_id, stock) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
	seller_id = EXCLUDED.seller_id, stock = EXCLUDED.stock, updated_at = NOW()`

	// Existing codes keep their usage count and activation state.
	upsertDiscountSQL = `INSERT INTO discount_codes
	(code, discount_amount, is_active, valid_from, valid_until, is_first_order_only,
	 min_order_value, max_usage, usage_count)
VALUES ($1, $2, TRUE, $3, $4, $5, $6, $7, 0)
ON CONFLICT (code) DO UPDATE SET discount_amount = EXCLUDED.discount_amount,
	valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until,
	is_first_order_only = EXCLUDED.is_first_order_only,
	min_order_value = EXCLUDED.min_order_value, max_usage = EXCLUDED.max_usage`
)

// Seeder loads fixture and imported data. Every write is an upsert so the
// commands using it can be rerun.
type Seeder struct {
	db *Store
}

// NewSeeder returns a Seeder on the store.
func NewSeeder(db *Store) *Seeder {
	return &Seeder{db: db}
}

// UpsertUser creates or updates a user.
func (s *Seeder) UpsertUser(ctx context.Context, u auth.User) error {
	if _, err := s.db.q(ctx).Exec(ctx, upsertUserSQL, u.ID, u.Email, u.Name, string(u.Role)); err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertAPIKey stores the hash of a key for a user.
func (s *Seeder) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	if _, err := s.db.q(ctx).Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.User.ID, k.Name); err != nil {
		return fmt.Errorf("upserting api key %s: %w", k.ID, err)
	}
	return nil
}

// UpsertProduct creates or updates a catalog entry.
func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := s.db.q(ctx).Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price.Round(2), p.SellerID, p.Stock)
	if err != nil {
		return fmt.Errorf("upserting product %s: %w", p.ID, err)
	}
	return nil
}

// UpsertDiscounts writes codes in one batch and returns how many rows were
// written.
func (s *Seeder) UpsertDiscounts(ctx context.Context, codes []discount.Code) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	for _, c := range codes {
		b.Queue(upsertDiscountSQL,
			c.Code, c.Amount.Round(2), c.ValidFrom, c.ValidUntil, c.FirstOrderOnly,
			c.MinOrderValue.Round(2), c.MaxUsage,
		)
	}

	br := s.db.q(ctx).SendBatch(ctx, b)
	var written int64
	for _, c := range codes {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return written, fmt.Errorf("upserting discount code %s: %w", c.Code, err)
		}
		written += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return written, fmt.Errorf("closing discount batch: %w", err)
	}
	return written, nil
}
