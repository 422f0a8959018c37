package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated         = "OrderCreated"
	EventOrderPaid            = "OrderPaid"
	EventOrderCancelled       = "OrderCancelled"
	EventOrderStatusChanged   = "OrderStatusChanged"
	EventPaymentStatusChanged = "PaymentStatusChanged"
	EventPaymentNotification  = "PaymentNotificationReceived"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Publisher ships envelopes to a topic. Implementations must not block for long.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, env Envelope) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte, Envelope) error { return nil }

// ---- payloads ----

type LinePayload struct {
	InstrumentID string          `json:"instrument_id"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Lines      []LinePayload   `json:"lines"`
	Total      decimal.Decimal `json:"total"`
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    Status `json:"from"`
	To      Status `json:"to"`
	Reason  string `json:"reason,omitempty"`
}

type PaymentStatusChangedPayload struct {
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	IntentRef     string `json:"intent_ref"`
	TransactionID string `json:"transaction_id,omitempty"`
	From          string `json:"from"`
	To            string `json:"to"`
	Source        string `json:"source"` // webhook | poll
}

type PaymentNotificationPayload struct {
	TransactionID string `json:"transaction_id"`
}

func linePayloads(lines []Line) []LinePayload {
	out := make([]LinePayload, 0, len(lines))
	for _, l := range lines {
		out = append(out, LinePayload{InstrumentID: l.InstrumentID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}
