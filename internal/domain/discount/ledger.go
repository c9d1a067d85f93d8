package discount

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Ledger validates discount codes and redeems them.
type Ledger struct {
	codes   Repository
	history OrderHistory
	clock   clockwork.Clock
	tracer  trace.Tracer
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used for validity windows.
func WithClock(c clockwork.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithTracerProvider enables tracing of ledger operations.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(l *Ledger) { l.tracer = tp.Tracer("kart-checkout/discount") }
}

// NewLedger creates a Ledger over the given code repository and order history.
func NewLedger(codes Repository, history OrderHistory, opts ...Option) *Ledger {
	l := &Ledger{
		codes:   codes,
		history: history,
		clock:   clockwork.NewRealClock(),
		tracer:  noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Normalize canonicalizes a user-supplied code. Codes are stored upper-case.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check runs every validation rule without locking or consuming a use.
func (l *Ledger) Check(ctx context.Context, code, userID string, orderTotal decimal.Decimal) (*Code, error) {
	ctx, span := l.tracer.Start(ctx, "discount.Check", trace.WithAttributes(attribute.String("discount.code", code)))
	defer span.End()

	if orderTotal.IsNegative() {
		return nil, ErrInvalidTotal
	}

	c, err := l.codes.FindByCode(ctx, Normalize(code))
	if err != nil {
		return nil, lookupError(err)
	}
	if err := l.validate(ctx, c, userID, orderTotal); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return c, nil
}

// Reserve validates the code and claims one use of it. It must be called
// inside the checkout transaction: the code row stays locked until commit and
// a rollback releases the claim.
func (l *Ledger) Reserve(ctx context.Context, code, userID string, orderTotal decimal.Decimal) (*Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "discount.Reserve", trace.WithAttributes(attribute.String("discount.code", code)))
	defer span.End()

	c, err := l.codes.FindForUpdate(ctx, Normalize(code))
	if err != nil {
		return nil, lookupError(err)
	}
	if err := l.validate(ctx, c, userID, orderTotal); err != nil {
		span.RecordError(err)
		return nil, err
	}

	ok, err := l.codes.IncrementUsage(ctx, c.Code)
	if err != nil {
		return nil, errors.Wrap(err, "increment discount usage")
	}
	if !ok {
		span.RecordError(ErrUsageExhausted)
		return nil, ErrUsageExhausted
	}

	return &Reservation{Code: c.Code, Amount: c.Amount}, nil
}

// validate applies the rules in order; the first failure wins.
func (l *Ledger) validate(ctx context.Context, c *Code, userID string, orderTotal decimal.Decimal) error {
	if !c.Active {
		return ErrInactive
	}

	now := l.clock.Now()
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return ErrExpired
	}

	if orderTotal.LessThan(c.MinOrderValue) {
		return ErrBelowMinimum
	}

	if c.MaxUsage > 0 && c.UsageCount >= c.MaxUsage {
		return ErrUsageExhausted
	}

	if c.FirstOrderOnly {
		fulfilled, err := l.history.HasFulfilledOrder(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "check order history")
		}
		if fulfilled {
			return ErrNotFirstOrder
		}
	}

	return nil
}

// Create registers a new code. Codes start active with no uses.
func (l *Ledger) Create(ctx context.Context, c Code) (*Code, error) {
	c.Code = Normalize(c.Code)
	switch {
	case c.Code == "":
		return nil, errors.Wrap(ErrInvalidCode, "code is required")
	case c.Amount.IsNegative():
		return nil, errors.Wrap(ErrInvalidCode, "discount amount must not be negative")
	case c.MinOrderValue.IsNegative():
		return nil, errors.Wrap(ErrInvalidCode, "minimum order value must not be negative")
	case c.MaxUsage < 0:
		return nil, errors.Wrap(ErrInvalidCode, "max usage must not be negative")
	case c.ValidUntil.IsZero():
		return nil, errors.Wrap(ErrInvalidCode, "valid_until is required")
	}
	if c.ValidFrom.IsZero() {
		c.ValidFrom = l.clock.Now()
	}
	if c.ValidFrom.After(c.ValidUntil) {
		return nil, errors.Wrap(ErrInvalidCode, "valid_from is after valid_until")
	}

	c.Active = true
	c.UsageCount = 0
	c.CreatedAt = l.clock.Now()
	if err := l.codes.Create(ctx, &c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrDuplicate
		}
		return nil, errors.Wrap(err, "create discount code")
	}
	return &c, nil
}

// List returns every code, active or not.
func (l *Ledger) List(ctx context.Context) ([]Code, error) {
	codes, err := l.codes.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list discount codes")
	}
	return codes, nil
}

// Deactivate disables a code. Codes are never deleted.
func (l *Ledger) Deactivate(ctx context.Context, code string) error {
	if err := l.codes.Deactivate(ctx, Normalize(code)); err != nil {
		return lookupError(err)
	}
	return nil
}

func lookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return errors.Wrap(err, "lookup discount code")
}
