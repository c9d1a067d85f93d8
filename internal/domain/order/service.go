package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/notify"
)

// Transactor runs fn inside one database transaction. Repositories called
// with the ctx passed to fn take part in it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Carts is the cart side of checkout.
type Carts interface {
	Snapshot(ctx context.Context, userID string) (*cart.Snapshot, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

// Discounts reserves a use of a discount code.
type Discounts interface {
	Reserve(ctx context.Context, code, userID string, orderTotal decimal.Decimal) (*discount.Reservation, error)
}

// Notifier fires post-commit notifications.
type Notifier interface {
	Fire(ctx context.Context, msg notify.Message)
}

// IdempotencyStore deduplicates checkout retries. Claim returns the order id
// of a finished checkout for the key, or claimed=false with an empty id while
// another checkout holds the key.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

// CheckoutRequest holds the input for converting a cart into an order.
type CheckoutRequest struct {
	User            auth.User
	DiscountCode    string
	ShippingAddress string
	PaymentMethod   string
	IdempotencyKey  string
}

// Service encapsulates checkout and the order life cycle.
type Service struct {
	tx        Transactor
	carts     Carts
	discounts Discounts
	orders    Repository

	notifier Notifier
	idem     IdempotencyStore
	clock    clockwork.Clock

	tracer  trace.Tracer
	placed  metric.Int64Counter
	failed  metric.Int64Counter
	redeems metric.Int64Counter
}

// Option configures a Service.
type Option func(*options)

type options struct {
	notifier Notifier
	idem     IdempotencyStore
	clock    clockwork.Clock
	tp       trace.TracerProvider
	mp       metric.MeterProvider
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithIdempotency enables checkout deduplication by idempotency key.
func WithIdempotency(s IdempotencyStore) Option {
	return func(o *options) { o.idem = s }
}

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.mp = mp }
}

type nopNotifier struct{}

func (nopNotifier) Fire(context.Context, notify.Message) {}

// NewService creates an order Service.
func NewService(
	tx Transactor,
	carts Carts,
	discounts Discounts,
	orders Repository,
	opts ...Option,
) (*Service, error) {
	o := options{
		notifier: nopNotifier{},
		clock:    clockwork.NewRealClock(),
		tp:       tracenoop.NewTracerProvider(),
		mp:       metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.mp.Meter("kart-checkout/order")
	placed, err := meter.Int64Counter("kart.orders.placed",
		metric.WithDescription("Orders created by checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	failed, err := meter.Int64Counter("kart.orders.checkout_failed",
		metric.WithDescription("Checkouts rolled back"))
	if err != nil {
		return nil, errors.Wrap(err, "checkout failed counter")
	}
	redeems, err := meter.Int64Counter("kart.discount.redemptions",
		metric.WithDescription("Discount codes redeemed by committed orders"))
	if err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}

	return &Service{
		tx:        tx,
		carts:     carts,
		discounts: discounts,
		orders:    orders,
		notifier:  o.notifier,
		idem:      o.idem,
		clock:     o.clock,
		tracer:    o.tp.Tracer("kart-checkout/order"),
		placed:    placed,
		failed:    failed,
		redeems:   redeems,
	}, nil
}

// Checkout converts the user's cart into a pending order. Cart snapshot,
// discount reservation, order creation and cart clearing commit or roll back
// together. The confirmation is sent only after commit.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (res *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout",
		trace.WithAttributes(attribute.String("user.id", req.User.ID)))
	defer span.End()

	if req.User.ID == "" {
		return nil, auth.ErrUnauthenticated
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = DefaultPaymentMethod
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		key := req.User.ID + ":" + req.IdempotencyKey
		prev, claimed, err := s.idem.Claim(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: claim idempotency key: %w", ErrPersistence, err)
		}
		if !claimed {
			if prev == "" {
				return nil, ErrCheckoutInProgress
			}
			return s.orders.GetByID(ctx, prev)
		}
		defer func() {
			s.settleIdempotency(ctx, key, res, rerr)
		}()
	}

	o, err := s.checkout(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkout failed")
		s.failed.Add(ctx, 1)
		return nil, classify(err)
	}

	s.placed.Add(ctx, 1)
	if o.DiscountCode != "" {
		s.redeems.Add(ctx, 1, metric.WithAttributes(attribute.String("discount.code", o.DiscountCode)))
	}
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("total", o.Total.StringFixed(2)),
		zap.String("discount_code", o.DiscountCode),
	)

	s.notifier.Fire(ctx, confirmation(req.User, o))
	return o, nil
}

func (s *Service) checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	var placed *Order
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		snap, err := s.carts.Snapshot(ctx, req.User.ID)
		if err != nil {
			return err
		}

		discountAmount := decimal.Zero
		code := ""
		if req.DiscountCode != "" {
			r, err := s.discounts.Reserve(ctx, req.DiscountCode, req.User.ID, snap.Total)
			if err != nil {
				return err
			}
			code = r.Code
			discountAmount = decimal.Min(r.Amount, snap.Total)
		}

		// Total = subtotal - discount, floored at zero.
		total := snap.Total.Sub(discountAmount)
		if total.IsNegative() {
			total = decimal.Zero
		}

		now := s.clock.Now()
		o := &Order{
			ID:              uuid.New().String(),
			UserID:          req.User.ID,
			Lines:           make([]Line, len(snap.Lines)),
			Total:           total.Round(2),
			DiscountCode:    code,
			DiscountAmount:  discountAmount.Round(2),
			Status:          StatusPending,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   req.PaymentMethod,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for i, l := range snap.Lines {
			o.Lines[i] = Line{
				ProductID: l.ProductID,
				Name:      l.Name,
				SellerID:  l.SellerID,
				Quantity:  l.Quantity,
				UnitPrice: l.UnitPrice,
			}
		}

		if err := s.orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		// Every line of the user's cart goes, including lines added after
		// the snapshot was taken.
		if _, err := s.carts.Clear(ctx, req.User.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}

		placed = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return placed, nil
}

// settleIdempotency records the order for a claimed key, or frees the key so
// a failed checkout can be retried.
func (s *Service) settleIdempotency(ctx context.Context, key string, o *Order, err error) {
	lg := zctx.From(ctx)
	ctx = context.WithoutCancel(ctx)
	if err != nil || o == nil {
		if rerr := s.idem.Release(ctx, key); rerr != nil {
			lg.Warn("Release idempotency key failed", zap.Error(rerr))
		}
		return
	}
	if cerr := s.idem.Complete(ctx, key, o.ID); cerr != nil {
		lg.Warn("Complete idempotency key failed", zap.String("order_id", o.ID), zap.Error(cerr))
	}
}

// domainErrors pass through Checkout unchanged; everything else is a
// persistence failure.
var domainErrors = []error{
	auth.ErrUnauthenticated,
	cart.ErrEmptyCart,
	cart.ErrProductUnavailable,
	discount.ErrNotFound,
	discount.ErrInactive,
	discount.ErrExpired,
	discount.ErrBelowMinimum,
	discount.ErrUsageExhausted,
	discount.ErrNotFirstOrder,
	discount.ErrInvalidTotal,
}

func classify(err error) error {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func confirmation(u auth.User, o *Order) notify.Message {
	return notify.Message{
		Template:  notify.TemplateOrderConfirmation,
		Recipient: u.Email,
		Key:       o.ID,
		Data: map[string]string{
			"order_id":         o.ID,
			"customer_name":    u.Name,
			"total":            o.Total.StringFixed(2),
			"discount_code":    o.DiscountCode,
			"discount_amount":  o.DiscountAmount.StringFixed(2),
			"shipping_address": o.ShippingAddress,
			"payment_method":   o.PaymentMethod,
		},
	}
}

// List returns the orders visible to the user, newest first.
func (s *Service) List(ctx context.Context, user auth.User) ([]Order, error) {
	if !user.Can(auth.ActionViewOrders) {
		return nil, ErrForbidden
	}

	var f ListFilter
	switch {
	case user.IsAdmin():
	case user.Role == auth.RoleSeller:
		f.UserID = user.ID
		f.SellerID = user.ID
	default:
		f.UserID = user.ID
	}

	orders, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Get returns one order if the user may see it.
func (s *Service) Get(ctx context.Context, user auth.User, id string) (*Order, error) {
	if !user.Can(auth.ActionViewOrders) {
		return nil, ErrForbidden
	}
	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(user, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// UpdateStatus moves an order along the status machine. Admins may make any
// legal transition, sellers only on orders that contain their products, and
// customers may only cancel their own orders.
func (s *Service) UpdateStatus(ctx context.Context, user auth.User, id, status string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.status", status)))
	defer span.End()

	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	o, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayChangeStatus(user, o, to) {
		return nil, ErrForbidden
	}

	from := o.Status
	if !CanTransition(from, to) {
		return nil, &TransitionError{From: from, To: to}
	}

	now := s.clock.Now()
	ok, err := s.orders.UpdateStatus(ctx, o.ID, from, to, now)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}
	if !ok {
		return nil, ErrStatusConflict
	}

	o.Status = to
	o.UpdatedAt = now
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("by", user.ID),
	)
	return o, nil
}

func (s *Service) get(ctx context.Context, id string) (*Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

func visible(user auth.User, o *Order) bool {
	switch {
	case user.IsAdmin():
		return true
	case o.UserID == user.ID:
		return true
	case user.Role == auth.RoleSeller:
		return o.SoldBy(user.ID)
	default:
		return false
	}
}

func mayChangeStatus(user auth.User, o *Order, to Status) bool {
	switch {
	case user.IsAdmin():
		return true
	case user.Can(auth.ActionUpdateOrderStatus) && o.SoldBy(user.ID):
		return true
	case to == StatusCancelled && o.UserID == user.ID:
		return user.Can(auth.ActionCancelOrder)
	default:
		return false
	}
}
