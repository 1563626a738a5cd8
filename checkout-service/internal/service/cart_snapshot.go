package service

import (
	"context"
	"encoding/json"
	"errors"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

var (
	ErrEmptyCart      = errors.New("cart is empty, nothing to checkout")
	ErrMissingAddress = errors.New("cart has no shipping address")
	ErrZeroTotal      = errors.New("cart total must be positive")
)

// getCart reads the cart once and freezes it. The returned JSON is stored on
// the saga; prices are never re-read after this point.
func (s *CheckoutServiceImpl) getCart(ctx context.Context, cartID string) (*d.CartSnapshot, []byte, error) {
	cart, err := s.cart.GetCart(ctx, cartID)
	if err != nil {
		switch {
		case remote.IsCode(err, "not_found"):
			return nil, nil, &d.SagaError{Kind: d.KindNotFound, Reason: "cart not found", Err: err}
		case remote.IsClientError(err):
			return nil, nil, &d.SagaError{Kind: d.KindValidation, Reason: "cart could not be read", Err: err}
		default:
			return nil, nil, &d.SagaError{Kind: d.KindUnavailable, Reason: "cart service unavailable", Err: err}
		}
	}
	if err := validateSnapshot(cart); err != nil {
		return nil, nil, &d.SagaError{Kind: d.KindValidation, Reason: err.Error(), Err: err}
	}

	raw, err := json.Marshal(cart)
	if err != nil {
		return nil, nil, &d.SagaError{Kind: d.KindStorage, Reason: "could not snapshot cart", Err: err}
	}
	return cart, raw, nil
}

func validateSnapshot(cart *d.CartSnapshot) error {
	quantity := 0
	for _, item := range cart.Items {
		quantity += item.Quantity
	}
	switch {
	case quantity == 0:
		return ErrEmptyCart
	case !cart.HasAddress():
		return ErrMissingAddress
	case !cart.Summary.Total.IsPositive():
		return ErrZeroTotal
	}
	return nil
}

func reserveItems(cart *d.CartSnapshot) []ReserveItem {
	items := make([]ReserveItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		items = append(items, ReserveItem{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return items
}

func orderItems(cart *d.CartSnapshot) []OrderItem {
	items := make([]OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		items = append(items, OrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return items
}
