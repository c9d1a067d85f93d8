package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Service implements cart operations.
type Service struct {
	lines    Repository
	products product.Repository
}

// NewService creates a cart Service.
func NewService(lines Repository, products product.Repository) *Service {
	return &Service{lines: lines, products: products}
}

// Snapshot reads every line of the user's cart with current prices. Called
// inside a transaction it reads through that transaction's connection.
func (s *Service) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	snap, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		return nil, ErrEmptyCart
	}
	return snap, nil
}

// List is Snapshot without the empty check.
func (s *Service) List(ctx context.Context, userID string) (*Snapshot, error) {
	lines, err := s.lines.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart lines")
	}
	return newSnapshot(userID, lines), nil
}

// Add puts qty units of a product in the cart, adding to an existing line.
func (s *Service) Add(ctx context.Context, userID, productID string, qty int) error {
	if qty < 1 || qty > MaxQuantity {
		return ErrInvalidQuantity
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return ErrProductUnavailable
		}
		return errors.Wrap(err, "get product")
	}
	if err := s.lines.Add(ctx, userID, productID, qty); err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return ErrInvalidQuantity
		}
		return errors.Wrap(err, "add cart line")
	}
	return nil
}

// SetQuantity replaces the quantity of an existing line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, qty int) error {
	if qty < 1 || qty > MaxQuantity {
		return ErrInvalidQuantity
	}
	ok, err := s.lines.SetQuantity(ctx, userID, productID, qty)
	if err != nil {
		return errors.Wrap(err, "update cart line")
	}
	if !ok {
		return ErrLineNotFound
	}
	return nil
}

// Remove drops one product from the cart.
func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	ok, err := s.lines.Remove(ctx, userID, productID)
	if err != nil {
		return errors.Wrap(err, "remove cart line")
	}
	if !ok {
		return ErrLineNotFound
	}
	return nil
}

// Clear deletes every line of the user's cart and returns how many were removed.
func (s *Service) Clear(ctx context.Context, userID string) (int64, error) {
	n, err := s.lines.Clear(ctx, userID)
	if err != nil {
		return 0, errors.Wrap(err, "clear cart")
	}
	return n, nil
}
