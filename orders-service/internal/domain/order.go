package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid order status transition")

var statusRank = map[OrderStatus]int{
	OrderStatusConfirmed:  0,
	OrderStatusProcessing: 1,
	OrderStatusShipped:    2,
	OrderStatusDelivered:  3,
}

func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCancelled
}

// CanTransition reports whether an order may move from s to next. Statuses
// only move forward; an order can be cancelled until it ships.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if next == OrderStatusCancelled {
		return s == OrderStatusConfirmed || s == OrderStatusProcessing
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	return ok && to > from
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Payment is the processor side of the order.
type Payment struct {
	Provider       string `json:"provider"`
	PaymentOrderID string `json:"payment_order_id"`
	CaptureID      string `json:"capture_id"`
	Status         string `json:"status"`
}

// Order is a finalized checkout. Address and shipping are opaque JSON
// snapshots copied from the cart at checkout time.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	ReservationID string          `json:"reservation_id"`
	UserID        string          `json:"user_id"`
	Email         string          `json:"email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        OrderStatus     `json:"status"`
	Items         []OrderItem     `json:"items"`
	Address       json.RawMessage `json:"address,omitempty"`
	Shipping      json.RawMessage `json:"shipping,omitempty"`
	Payment       Payment         `json:"payment"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
