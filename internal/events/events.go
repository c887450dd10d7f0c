// Package events publishes order lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/apparel-checkout/internal/domain/order"
)

// TypeOrderApproved is the event type of an approved order.
const TypeOrderApproved = "order.approved"

// EncodeApproved renders the order.approved event payload.
func EncodeApproved(o *order.Order, at time.Time) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(TypeOrderApproved) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
		e.Field("order_number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("payment_id", func(e *jx.Encoder) { e.Str(o.PaymentID) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("total", func(e *jx.Encoder) { e.Raw([]byte(o.Total.StringFixed(2))) })
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(o.Customer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(o.Customer.Email) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(o.Customer.Phone) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, li := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Int64(li.ProductID) })
						e.Field("size", func(e *jx.Encoder) { e.Str(li.Size) })
						e.Field("color", func(e *jx.Encoder) { e.Str(li.Color) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
					})
				}
			})
		})
	})
	return e.Bytes()
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a Kafka topic, keyed by order number so that
// events of one order stay in one partition.
type Kafka struct {
	w   messageWriter
	now func() time.Time
}

// NewKafka creates a Kafka publisher writing to topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			// Writes are synchronous on the webhook path: do not wait for a
			// batch to fill, and give up after a few attempts.
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
		},
		now: time.Now,
	}
}

// PublishApproved writes the order.approved event of o.
func (k *Kafka) PublishApproved(ctx context.Context, o *order.Order) error {
	msg := kafka.Message{
		Key:   []byte(o.Number),
		Value: EncodeApproved(o, k.now()),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeOrderApproved)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// Log publishes events to the context logger. It is used when no broker is
// configured.
type Log struct{}

// PublishApproved logs the order.approved event of o.
func (Log) PublishApproved(ctx context.Context, o *order.Order) error {
	zctx.From(ctx).Info("Order approved",
		zap.String("order_number", o.Number),
		zap.String("payment_id", o.PaymentID),
		zap.String("payment_method", o.PaymentMethod),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return nil
}
