// Package events defines the checkout events published to Kafka from the
// checkout outbox.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "checkout-events"

	HeaderEventType = "event_type"

	TypeCheckoutCompleted      = "checkout.completed"
	TypeCheckoutFailed         = "checkout.failed"
	TypeReconciliationRequired = "checkout.reconciliation_required"
)

// Checkout is the payload of every checkout event. Fields that do not apply
// to an event type are empty.
type Checkout struct {
	Type           string    `json:"event_type"`
	ReservationID  string    `json:"reservation_id"`
	CartID         string    `json:"cart_id"`
	UserID         string    `json:"user_id"`
	OrderID        string    `json:"order_id,omitempty"`
	PaymentOrderID string    `json:"payment_order_id,omitempty"`
	CaptureID      string    `json:"capture_id,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	FailureKind    string    `json:"failure_kind,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Decode reads a checkout event from a Kafka message. The type header wins
// over the payload field when both are present.
func Decode(m kafka.Message) (Checkout, error) {
	var e Checkout
	if err := json.Unmarshal(m.Value, &e); err != nil {
		return Checkout{}, fmt.Errorf("decode checkout event: %w", err)
	}
	for _, h := range m.Headers {
		if h.Key == HeaderEventType {
			e.Type = string(h.Value)
		}
	}
	if e.Type == "" || e.ReservationID == "" {
		return Checkout{}, fmt.Errorf("decode checkout event: missing type or reservation_id")
	}
	return e, nil
}
