package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type CartSnapshotItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Title     string          `json:"title"`
}

type CartSummary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// CartSnapshot is the cart as read at checkout start. Address and shipping
// stay raw so they can be forwarded to inventory and orders untouched.
type CartSnapshot struct {
	ID             string             `json:"id"`
	Items          []CartSnapshotItem `json:"items"`
	Address        json.RawMessage    `json:"address,omitempty"`
	Shipping       json.RawMessage    `json:"shipping,omitempty"`
	Summary        CartSummary        `json:"summary"`
	ReservationID  string             `json:"reservation_id,omitempty"`
	PaymentOrderID string             `json:"payment_order_id,omitempty"`
}

func (c *CartSnapshot) HasAddress() bool {
	return len(c.Address) > 0 && string(c.Address) != "null"
}
