// Package notifier implements notify.Sender over the configured transport.
package notifier

import (
	"context"
	"io"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/notify"
)

// Driver names.
const (
	DriverLog   = "log"
	DriverKafka = "kafka"
	DriverSES   = "ses"
)

// Config selects and configures the sender.
type Config struct {
	Driver  string        `default:"log" usage:"notification driver: log, kafka or ses"`
	Timeout time.Duration `default:"10s" usage:"per-message delivery timeout"`
	Kafka   KafkaConfig
	SES     SESConfig
}

// KafkaConfig configures the kafka driver.
type KafkaConfig struct {
	Brokers []string `usage:"kafka broker addresses"`
	Topic   string   `default:"kart.notifications"`
}

// SESConfig configures the ses driver.
type SESConfig struct {
	Region string `default:"us-east-1"`
	Sender string `usage:"verified sender address"`
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the sender named by cfg.Driver. The closer releases transport
// resources and must be called after the notify.Trigger has drained.
func New(ctx context.Context, cfg Config, lg *zap.Logger) (notify.Sender, io.Closer, error) {
	switch cfg.Driver {
	case "", DriverLog:
		return NewLogSender(lg), nopCloser{}, nil
	case DriverKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, nil, errors.New("kafka driver requires at least one broker")
		}
		s := NewKafkaSender(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		return s, s, nil
	case DriverSES:
		s, err := NewSESSender(ctx, cfg.SES.Region, cfg.SES.Sender)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil
	default:
		return nil, nil, errors.Errorf("unknown notification driver %q", cfg.Driver)
	}
}
