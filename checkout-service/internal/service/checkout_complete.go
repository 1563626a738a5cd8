package service

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v5"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/events"
)

const paymentProvider = "paypal"

// createOrder moves InventoryCommitted to OrderCreated. The orders service
// keys orders by reservation id, so retries and duplicate callbacks converge
// on one order. This step never compensates: it is retried until it lands.
func (s *CheckoutServiceImpl) createOrder(ctx context.Context, saga *d.Saga) error {
	ctx = context.WithoutCancel(ctx)

	var cart d.CartSnapshot
	if err := json.Unmarshal(saga.Snapshot, &cart); err != nil {
		return &d.SagaError{Kind: d.KindStorage, ReservationID: saga.ReservationID, Reason: "corrupt cart snapshot",
			PaymentCaptured: true, Err: err}
	}
	req := CreateOrderRequest{
		ReservationID: saga.ReservationID,
		UserID:        saga.UserID,
		Email:         saga.Email,
		Amount:        saga.Amount,
		Currency:      saga.Currency,
		Items:         orderItems(&cart),
		Address:       cart.Address,
		Shipping:      cart.Shipping,
		Payment: OrderPayment{
			Provider:       paymentProvider,
			PaymentOrderID: saga.PaymentOrderID,
			CaptureID:      saga.CaptureID,
			Status:         saga.CaptureStatus,
		},
	}

	orderID, err := backoff.Retry(ctx, func() (string, error) {
		id, err := s.orders.CreateOrder(ctx, req)
		if err != nil && !transient(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}, s.retryOptions(ctx, saga, "order creation")...)
	if err != nil {
		kind := d.KindStorage
		if transient(err) {
			kind = d.KindUnavailable
		}
		return &d.SagaError{Kind: kind, ReservationID: saga.ReservationID, Reason: "payment captured; order pending",
			PaymentCaptured: true, Err: err}
	}

	saga.OrderID = orderID
	eff := r.Effects{
		Note:   "order " + orderID,
		Events: []events.Checkout{s.event(saga, events.TypeCheckoutCompleted)},
	}
	if err := s.advance(ctx, saga, d.StateOrderCreated, eff); err != nil {
		return storeErr(saga, err)
	}
	s.clearCartPointers(ctx, saga)
	return nil
}
