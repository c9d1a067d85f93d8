// Package discount implements the discount ledger: validation of discount
// codes against an order total and concurrency-safe redemption.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no discount code matches.
	ErrNotFound = errors.New("discount code not found")
	// ErrInactive is returned for a deactivated code.
	ErrInactive = errors.New("discount code is inactive")
	// ErrExpired is returned when now is outside [ValidFrom, ValidUntil].
	ErrExpired = errors.New("discount code is not valid at this time")
	// ErrBelowMinimum is returned when the order total is below MinOrderValue.
	ErrBelowMinimum = errors.New("order total is below the discount minimum")
	// ErrUsageExhausted is returned when every use of the code is taken,
	// including when a concurrent checkout won the last slot.
	ErrUsageExhausted = errors.New("discount code usage limit reached")
	// ErrNotFirstOrder is returned for first-order-only codes when the user
	// already has a shipped or completed order.
	ErrNotFirstOrder = errors.New("discount code is valid for first orders only")

	// ErrInvalidTotal is returned when a negative order total is checked.
	ErrInvalidTotal = errors.New("order total must not be negative")
	// ErrInvalidCode is returned by Create for malformed definitions.
	ErrInvalidCode = errors.New("invalid discount code definition")
	// ErrDuplicate is returned by Create when the code already exists.
	ErrDuplicate = errors.New("discount code already exists")
)

// Code is an administrator-defined discount. Amount is an absolute currency
// amount, never a percentage. MaxUsage 0 means unlimited.
type Code struct {
	Code           string
	Amount         decimal.Decimal
	Active         bool
	ValidFrom      time.Time
	ValidUntil     time.Time
	FirstOrderOnly bool
	MinOrderValue  decimal.Decimal
	MaxUsage       int
	UsageCount     int
	CreatedAt      time.Time
}

// Reservation is a claimed use of a discount code. It is only meaningful
// inside the transaction that produced it.
type Reservation struct {
	Code   string
	Amount decimal.Decimal
}

// Repository provides discount code persistence. FindForUpdate must lock the
// row until the surrounding transaction ends. IncrementUsage must be a guarded
// compare-and-swap that returns false when the limit is already reached.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
	FindForUpdate(ctx context.Context, code string) (*Code, error)
	IncrementUsage(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, c *Code) error
	List(ctx context.Context) ([]Code, error)
	Deactivate(ctx context.Context, code string) error
}

// OrderHistory answers whether a user already has a fulfilled order.
type OrderHistory interface {
	HasFulfilledOrder(ctx context.Context, userID string) (bool, error)
}
