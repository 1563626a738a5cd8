package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrItemNotFound = errors.New("item not found in cart")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type Cart struct {
	ID             string             `json:"id"`
	Items          []LineItem         `json:"items"`
	Address        *Address           `json:"address,omitempty"`
	Shipping       *ShippingSelection `json:"shipping,omitempty"`
	Coupon         *AppliedCoupon     `json:"coupon,omitempty"`
	Summary        Summary            `json:"summary"`
	ReservationID  string             `json:"reservation_id,omitempty"`
	PaymentOrderID string             `json:"payment_order_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

type LineItem struct {
	ProductID  string            `json:"product_id"`
	VariantID  string            `json:"variant_id,omitempty"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	Title      string            `json:"title"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) Validate() error {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return invalid("address line1 is required")
	case strings.TrimSpace(a.City) == "":
		return invalid("address city is required")
	case strings.TrimSpace(a.PostalCode) == "":
		return invalid("address postal_code is required")
	case len(strings.TrimSpace(a.Country)) != 2:
		return invalid("address country must be an ISO 3166-1 alpha-2 code")
	}
	return nil
}

type ShippingSelection struct {
	MethodID string          `json:"method_id"`
	Label    string          `json:"label"`
	Cost     decimal.Decimal `json:"cost"`
}

type AppliedCoupon struct {
	Code   string          `json:"code"`
	Type   DiscountType    `json:"type"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

type Summary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Shipping decimal.Decimal `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

func NewCart(id string, now time.Time) *Cart {
	c := &Cart{ID: id, Items: []LineItem{}, CreatedAt: now, UpdatedAt: now}
	c.Recompute()
	return c
}

func (c *Cart) indexOf(productID, variantID string) int {
	for i, li := range c.Items {
		if li.ProductID == productID && li.VariantID == variantID {
			return i
		}
	}
	return -1
}

// AddItem adds a line or, when (productID, variantID) is already in the cart,
// increases its quantity and refreshes price, title and attributes.
func (c *Cart) AddItem(item LineItem) error {
	if strings.TrimSpace(item.ProductID) == "" {
		return invalid("product_id is required")
	}
	if item.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	if item.UnitPrice.IsNegative() {
		return invalid("unit_price must not be negative")
	}

	if i := c.indexOf(item.ProductID, item.VariantID); i >= 0 {
		item.Quantity += c.Items[i].Quantity
		c.Items[i] = item
	} else {
		c.Items = append(c.Items, item)
	}
	c.Recompute()
	return nil
}

// UpdateItemQuantity sets a line's quantity. Zero removes the line.
func (c *Cart) UpdateItemQuantity(productID, variantID string, quantity int) error {
	if quantity < 0 {
		return invalid("quantity must not be negative")
	}
	if quantity == 0 {
		return c.RemoveItem(productID, variantID)
	}
	i := c.indexOf(productID, variantID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items[i].Quantity = quantity
	c.Recompute()
	return nil
}

func (c *Cart) RemoveItem(productID, variantID string) error {
	i := c.indexOf(productID, variantID)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.Recompute()
	return nil
}

func (c *Cart) SetAddress(a Address) error {
	if err := a.Validate(); err != nil {
		return err
	}
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	c.Address = &a
	return nil
}

func (c *Cart) SelectShipping(m ShippingMethod) {
	c.Shipping = &ShippingSelection{MethodID: m.ID, Label: m.Label, Cost: m.Cost}
	c.Recompute()
}

// ApplyCoupon replaces any coupon on the cart. A nil rule removes it.
func (c *Cart) ApplyCoupon(rule *CouponRule) {
	if rule == nil {
		c.Coupon = nil
	} else {
		c.Coupon = &AppliedCoupon{Code: rule.Code, Type: rule.Type, Value: rule.Value}
	}
	c.Recompute()
}

// Clear empties the cart and drops every selection and saga pointer.
func (c *Cart) Clear() {
	c.Items = []LineItem{}
	c.Address = nil
	c.Shipping = nil
	c.Coupon = nil
	c.ReservationID = ""
	c.PaymentOrderID = ""
	c.Recompute()
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Recompute derives the summary from items, coupon and shipping. The discount
// never exceeds the subtotal and shipping is only charged on a non-empty cart,
// so every field stays non-negative.
func (c *Cart) Recompute() {
	subtotal := decimal.Zero
	for _, li := range c.Items {
		subtotal = subtotal.Add(li.LineTotal())
	}
	subtotal = subtotal.Round(2)

	discount := decimal.Zero
	if c.Coupon != nil {
		discount = c.Coupon.Type.Discount(c.Coupon.Value, subtotal)
		c.Coupon.Amount = discount
	}

	shipping := decimal.Zero
	if c.Shipping != nil && !c.IsEmpty() {
		shipping = c.Shipping.Cost.Round(2)
	}

	c.Summary = Summary{
		Subtotal: subtotal,
		Discount: discount,
		Shipping: shipping,
		Total:    subtotal.Sub(discount).Add(shipping),
	}
}
