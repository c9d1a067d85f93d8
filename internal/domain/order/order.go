package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no order matches the id.
	ErrNotFound = errors.New("order not found")
	// ErrForbidden is returned when the caller may not see or change an order.
	ErrForbidden = errors.New("order access forbidden")
	// ErrPersistence wraps infrastructure failures during checkout. The
	// whole unit of work has been rolled back when it is returned.
	ErrPersistence = errors.New("order persistence failed")
	// ErrCheckoutInProgress is returned for a duplicate idempotency key whose
	// first checkout has not finished yet.
	ErrCheckoutInProgress = errors.New("checkout with this idempotency key is in progress")
)

// DefaultPaymentMethod is used when checkout does not name one.
const DefaultPaymentMethod = "COD"

// Order is a placed order. Total is after discount; DiscountAmount never
// exceeds the pre-discount total.
type Order struct {
	ID              string
	UserID          string
	Lines           []Line
	Total           decimal.Decimal
	DiscountCode    string
	DiscountAmount  decimal.Decimal
	Status          Status
	ShippingAddress string
	PaymentMethod   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Subtotal is the pre-discount total.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// SoldBy reports whether any line belongs to the seller.
func (o *Order) SoldBy(sellerID string) bool {
	for _, l := range o.Lines {
		if l.SellerID != "" && l.SellerID == sellerID {
			return true
		}
	}
	return false
}

// Line is an order line. UnitPrice is captured at purchase time and never
// recomputed. ProductID is empty once the product has been deleted.
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

// ListFilter narrows List to orders placed by UserID or containing a line
// sold by SellerID. Either field matching is enough; the zero value lists
// every order.
type ListFilter struct {
	UserID   string
	SellerID string
}

// Repository defines persistence operations for orders. UpdateStatus is a
// compare-and-swap on the previous status and reports whether it applied.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	HasFulfilledOrder(ctx context.Context, userID string) (bool, error)
}
