package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/notify"
)

// LogSender writes notifications to the log. Used in development.
type LogSender struct {
	lg *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(lg *zap.Logger) *LogSender {
	return &LogSender{lg: lg}
}

// Send implements notify.Sender.
func (s *LogSender) Send(_ context.Context, msg notify.Message) error {
	fields := make([]zap.Field, 0, len(msg.Data)+2)
	fields = append(fields,
		zap.String("template", msg.Template),
		zap.String("recipient", msg.Recipient),
	)
	for k, v := range msg.Data {
		fields = append(fields, zap.String(k, v))
	}
	s.lg.Info("Notification", fields...)
	return nil
}
