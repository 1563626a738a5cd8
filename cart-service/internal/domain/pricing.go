package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart_saga/pkg/config"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// Discount is the amount taken off subtotal, rounded to cents and capped at
// subtotal.
func (t DiscountType) Discount(value, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch t {
	case DiscountPercent:
		d = subtotal.Mul(value).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		d = value
	default:
		return decimal.Zero
	}
	d = d.Round(2)
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(subtotal) {
		return subtotal
	}
	return d
}

type CouponRule struct {
	Code  string
	Type  DiscountType
	Value decimal.Decimal
}

type ShippingMethod struct {
	ID    string
	Label string
	Cost  decimal.Decimal
}

// Pricing holds the coupons and shipping methods a cart may select.
type Pricing struct {
	coupons  map[string]CouponRule
	shipping map[string]ShippingMethod
}

func NewPricing(cfg config.CartConfig) (*Pricing, error) {
	p := &Pricing{
		coupons:  make(map[string]CouponRule, len(cfg.Coupons)),
		shipping: make(map[string]ShippingMethod, len(cfg.Shipping)),
	}
	for code, c := range cfg.Coupons {
		value, err := decimal.NewFromString(c.Value)
		if err != nil {
			return nil, fmt.Errorf("coupon %s: %w", code, err)
		}
		t := DiscountType(c.Type)
		if t != DiscountPercent && t != DiscountFixed {
			return nil, fmt.Errorf("coupon %s: unknown type %q", code, c.Type)
		}
		if t == DiscountPercent && (value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100))) {
			return nil, fmt.Errorf("coupon %s: percent must be within 0..100", code)
		}
		code = strings.ToUpper(code)
		p.coupons[code] = CouponRule{Code: code, Type: t, Value: value}
	}
	for id, s := range cfg.Shipping {
		cost, err := decimal.NewFromString(s.Cost)
		if err != nil {
			return nil, fmt.Errorf("shipping %s: %w", id, err)
		}
		if cost.IsNegative() {
			return nil, fmt.Errorf("shipping %s: cost must not be negative", id)
		}
		p.shipping[id] = ShippingMethod{ID: id, Label: s.Label, Cost: cost}
	}
	return p, nil
}

func (p *Pricing) Coupon(code string) (CouponRule, error) {
	rule, ok := p.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return CouponRule{}, invalid("unknown coupon %q", code)
	}
	return rule, nil
}

func (p *Pricing) Shipping(id string) (ShippingMethod, error) {
	m, ok := p.shipping[id]
	if !ok {
		return ShippingMethod{}, invalid("unknown shipping method %q", id)
	}
	return m, nil
}
