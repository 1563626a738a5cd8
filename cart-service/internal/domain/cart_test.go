package domain

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart_saga/pkg/config"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPricing(t *testing.T) *Pricing {
	p, err := NewPricing(config.CartConfig{
		Coupons: map[string]config.CouponConfig{
			"save10": {Type: "percent", Value: "10"},
			"FIVE":   {Type: "fixed", Value: "5.00"},
			"HUGE":   {Type: "fixed", Value: "1000"},
		},
		Shipping: map[string]config.ShippingConfig{
			"standard": {Label: "Standard", Cost: "4.99"},
			"express":  {Label: "Express", Cost: "14.99"},
		},
	})
	require.NoError(t, err)
	return p
}

func assertSummaryInvariant(t *testing.T, c *Cart) {
	t.Helper()
	s := c.Summary
	assert.True(t, s.Total.Equal(s.Subtotal.Sub(s.Discount).Add(s.Shipping)), "total = subtotal - discount + shipping")
	assert.False(t, s.Subtotal.IsNegative())
	assert.False(t, s.Discount.IsNegative())
	assert.False(t, s.Shipping.IsNegative())
	assert.False(t, s.Total.IsNegative())
}

func TestSummary_SingleItemScenario(t *testing.T) {
	c := NewCart("c1", time.Now())
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", Quantity: 2, UnitPrice: d("10.00")}))

	assert.True(t, c.Summary.Subtotal.Equal(d("20.00")))
	assert.True(t, c.Summary.Discount.IsZero())
	assert.True(t, c.Summary.Shipping.IsZero())
	assert.True(t, c.Summary.Total.Equal(d("20.00")))
}

func TestAddItem_MergesSameLine(t *testing.T) {
	c := NewCart("c1", time.Now())
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", VariantID: "red", Quantity: 1, UnitPrice: d("3")}))
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", VariantID: "red", Quantity: 2, UnitPrice: d("3")}))
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", VariantID: "blue", Quantity: 1, UnitPrice: d("3")}))

	require.Len(t, c.Items, 2)
	assert.Equal(t, 3, c.Items[0].Quantity)
	assert.True(t, c.Summary.Subtotal.Equal(d("12")))
}

func TestAddItem_Validation(t *testing.T) {
	c := NewCart("c1", time.Now())
	assert.ErrorIs(t, c.AddItem(LineItem{Quantity: 1, UnitPrice: d("1")}), ErrInvalidInput)
	assert.ErrorIs(t, c.AddItem(LineItem{ProductID: "p", Quantity: 0, UnitPrice: d("1")}), ErrInvalidInput)
	assert.ErrorIs(t, c.AddItem(LineItem{ProductID: "p", Quantity: 1, UnitPrice: d("-1")}), ErrInvalidInput)
	assert.Empty(t, c.Items)
}

func TestUpdateItemQuantity_ZeroRemoves(t *testing.T) {
	c := NewCart("c1", time.Now())
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", Quantity: 2, UnitPrice: d("10")}))

	require.NoError(t, c.UpdateItemQuantity("p1", "", 0))
	assert.Empty(t, c.Items)
	assert.True(t, c.Summary.Total.IsZero())

	assert.ErrorIs(t, c.UpdateItemQuantity("p1", "", 3), ErrItemNotFound)
	assert.ErrorIs(t, c.UpdateItemQuantity("p1", "", -1), ErrInvalidInput)
}

func TestCoupon_PercentAndFixed(t *testing.T) {
	p := testPricing(t)
	c := NewCart("c1", time.Now())
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", Quantity: 3, UnitPrice: d("33.33")}))

	rule, err := p.Coupon("SAVE10")
	require.NoError(t, err)
	c.ApplyCoupon(&rule)
	assert.True(t, c.Summary.Subtotal.Equal(d("99.99")))
	assert.True(t, c.Summary.Discount.Equal(d("10.00")))
	assert.True(t, c.Summary.Total.Equal(d("89.99")))

	rule, err = p.Coupon("five")
	require.NoError(t, err)
	c.ApplyCoupon(&rule)
	assert.True(t, c.Summary.Discount.Equal(d("5")))
	assertSummaryInvariant(t, c)

	c.ApplyCoupon(nil)
	assert.Nil(t, c.Coupon)
	assert.True(t, c.Summary.Discount.IsZero())
}

func TestCoupon_CappedAtSubtotal(t *testing.T) {
	p := testPricing(t)
	c := NewCart("c1", time.Now())
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", Quantity: 1, UnitPrice: d("12.50")}))
	rule, _ := p.Coupon("HUGE")
	c.ApplyCoupon(&rule)

	assert.True(t, c.Summary.Discount.Equal(d("12.50")))
	assert.True(t, c.Summary.Total.IsZero())
}

func TestShipping_OnlyChargedOnNonEmptyCart(t *testing.T) {
	p := testPricing(t)
	c := NewCart("c1", time.Now())
	m, err := p.Shipping("standard")
	require.NoError(t, err)
	c.SelectShipping(m)
	assert.True(t, c.Summary.Shipping.IsZero())

	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", Quantity: 1, UnitPrice: d("10")}))
	assert.True(t, c.Summary.Shipping.Equal(d("4.99")))
	assert.True(t, c.Summary.Total.Equal(d("14.99")))

	_, err = p.Shipping("teleport")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetAddress(t *testing.T) {
	c := NewCart("c1", time.Now())
	assert.ErrorIs(t, c.SetAddress(Address{City: "Berlin"}), ErrInvalidInput)

	require.NoError(t, c.SetAddress(Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "us"}))
	assert.Equal(t, "US", c.Address.Country)
}

func TestClear(t *testing.T) {
	c := NewCart("c1", time.Now())
	require.NoError(t, c.AddItem(LineItem{ProductID: "p1", Quantity: 1, UnitPrice: d("10")}))
	c.ReservationID = "res_1"
	c.Clear()
	assert.True(t, c.IsEmpty())
	assert.Empty(t, c.ReservationID)
	assert.True(t, c.Summary.Total.IsZero())
}

func TestSummary_InvariantHoldsForRandomMutations(t *testing.T) {
	p := testPricing(t)
	rng := rand.New(rand.NewSource(42))
	coupons := []string{"SAVE10", "FIVE", "HUGE"}
	methods := []string{"standard", "express"}

	for run := 0; run < 50; run++ {
		c := NewCart("c", time.Now())
		for step := 0; step < 40; step++ {
			pid := "p" + strconv.Itoa(rng.Intn(5))
			switch rng.Intn(5) {
			case 0:
				price := decimal.NewFromInt(int64(rng.Intn(10000))).Div(decimal.NewFromInt(100))
				_ = c.AddItem(LineItem{ProductID: pid, Quantity: 1 + rng.Intn(4), UnitPrice: price})
			case 1:
				_ = c.UpdateItemQuantity(pid, "", rng.Intn(4))
			case 2:
				_ = c.RemoveItem(pid, "")
			case 3:
				rule, _ := p.Coupon(coupons[rng.Intn(len(coupons))])
				c.ApplyCoupon(&rule)
			case 4:
				m, _ := p.Shipping(methods[rng.Intn(len(methods))])
				c.SelectShipping(m)
			}
			assertSummaryInvariant(t, c)
		}
	}
}

func TestNewPricing_RejectsBadConfig(t *testing.T) {
	_, err := NewPricing(config.CartConfig{Coupons: map[string]config.CouponConfig{"X": {Type: "bogo", Value: "1"}}})
	assert.Error(t, err)
	_, err = NewPricing(config.CartConfig{Coupons: map[string]config.CouponConfig{"X": {Type: "percent", Value: "150"}}})
	assert.Error(t, err)
	_, err = NewPricing(config.CartConfig{Shipping: map[string]config.ShippingConfig{"s": {Cost: "abc"}}})
	assert.Error(t, err)
}
