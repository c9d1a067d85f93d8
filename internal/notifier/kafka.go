package notifier

import (
	"context"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/xenking/kart-checkout/internal/domain/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes notifications to a topic for a downstream mailer.
type KafkaSender struct {
	w   messageWriter
	now func() time.Time
}

// NewKafkaSender creates a KafkaSender. The writer makes a single attempt per
// message; retries are the consumer's concern.
func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  1,
			WriteTimeout: 10 * time.Second,
			ReadTimeout:  10 * time.Second,
		},
		now: time.Now,
	}
}

// Send implements notify.Sender.
func (s *KafkaSender) Send(ctx context.Context, msg notify.Message) error {
	err := s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: encodeMessage(msg, s.now()),
		Headers: []kafka.Header{
			{Key: "template", Value: []byte(msg.Template)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "write kafka message")
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.w.Close()
}

func encodeMessage(msg notify.Message, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("template")
	e.Str(msg.Template)
	e.FieldStart("recipient")
	e.Str(msg.Recipient)
	e.FieldStart("key")
	e.Str(msg.Key)
	e.FieldStart("created_at")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.FieldStart("data")
	e.ObjStart()
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.FieldStart(k)
		e.Str(msg.Data[k])
	}
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}
