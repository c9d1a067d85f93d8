// Package notify fires best-effort notifications after a state change has
// been committed. Delivery never affects the outcome of the operation that
// triggered it.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// TemplateOrderConfirmation is sent once an order has been placed.
const TemplateOrderConfirmation = "order_confirmation"

// ErrUnknownTemplate is returned by senders for unsupported templates.
var ErrUnknownTemplate = errors.New("unknown notification template")

// Message is a single notification. Key groups messages about the same
// entity; senders that partition use it.
type Message struct {
	Template  string
	Recipient string
	Key       string
	Data      map[string]string
}

// Sender delivers a message. Implementations make exactly one attempt.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Trigger dispatches messages in the background.
type Trigger struct {
	sender  Sender
	lg      *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithTimeout sets the per-message delivery deadline.
func WithTimeout(d time.Duration) TriggerOption {
	return func(t *Trigger) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTrigger creates a Trigger over sender.
func NewTrigger(sender Sender, lg *zap.Logger, opts ...TriggerOption) *Trigger {
	if lg == nil {
		lg = zap.NewNop()
	}
	t := &Trigger{
		sender:  sender,
		lg:      lg,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fire sends msg once in a new goroutine. The send outlives ctx
// cancellation but keeps its values. Failures are logged and dropped.
func (t *Trigger) Fire(ctx context.Context, msg Message) {
	ctx = context.WithoutCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.lg.Error("Notification sender panicked",
					zap.String("template", msg.Template),
					zap.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		if err := t.sender.Send(ctx, msg); err != nil {
			t.lg.Warn("Notification failed",
				zap.String("template", msg.Template),
				zap.String("key", msg.Key),
				zap.Error(err),
			)
			return
		}
		t.lg.Debug("Notification sent",
			zap.String("template", msg.Template),
			zap.String("key", msg.Key),
		)
	}()
}

// Wait blocks until every fired message has finished or ctx is done.
func (t *Trigger) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for notifications")
	}
}
