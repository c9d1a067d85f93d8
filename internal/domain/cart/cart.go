// Package cart reads and edits a user's pending cart and produces the
// snapshot that checkout turns into an order.
package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxQuantity caps a single cart line.
const MaxQuantity = 10000

var (
	// ErrEmptyCart is returned when a snapshot is requested for a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrProductUnavailable is returned when adding a product that does not exist.
	ErrProductUnavailable = errors.New("product is unavailable")
	// ErrInvalidQuantity is returned for quantities outside [1, MaxQuantity].
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 10000")
	// ErrLineNotFound is returned when editing a product that is not in the cart.
	ErrLineNotFound = errors.New("product is not in the cart")
)

// Line is a cart entry joined with the live catalog price.
type Line struct {
	ProductID string
	Name      string
	SellerID  string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal is quantity times unit price.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is a point-in-time read of a cart.
type Snapshot struct {
	UserID string
	Lines  []Line
	Total  decimal.Decimal
}

// Empty reports whether the snapshot has no lines.
func (s *Snapshot) Empty() bool { return len(s.Lines) == 0 }

func newSnapshot(userID string, lines []Line) *Snapshot {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return &Snapshot{UserID: userID, Lines: lines, Total: total}
}

// Repository provides cart line persistence. Add increments the quantity of
// an existing line and returns ErrInvalidQuantity instead of going past
// MaxQuantity. SetQuantity and Remove report whether a line was touched.
type Repository interface {
	ListByUser(ctx context.Context, userID string) ([]Line, error)
	Add(ctx context.Context, userID, productID string, qty int) error
	SetQuantity(ctx context.Context, userID, productID string, qty int) (bool, error)
	Remove(ctx context.Context, userID, productID string) (bool, error)
	Clear(ctx context.Context, userID string) (int64, error)
}
