package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/go-instrument-store/internal/orders"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

// EventPublisher sends domain envelopes through a Producer.
type EventPublisher struct {
	Producer *Producer
}

var _ orders.Publisher = (*EventPublisher)(nil)

func (p *EventPublisher) Publish(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && env.TraceID == "" {
		env.TraceID = sc.TraceID().String()
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, topic, key, value,
		kafka.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

// NotificationPublisher hands webhook notifications to the reconciler process.
type NotificationPublisher struct {
	Events  *EventPublisher
	Service string
}

var _ payments.NotificationSink = (*NotificationPublisher)(nil)

func (n *NotificationPublisher) Submit(ctx context.Context, transactionID string) error {
	env, err := orders.NewEnvelope(orders.EventPaymentNotification, n.Service, "",
		orders.PaymentNotificationPayload{TransactionID: transactionID})
	if err != nil {
		return err
	}
	// keyed by transaction so redeliveries of one transaction stay ordered
	return n.Events.Publish(ctx, orders.TopicPaymentNotification, []byte(transactionID), env)
}
