package service

import (
	"context"
	"strings"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
)

// Capture handles the processor's capture callback. Callbacks for the same
// reservation are serialized; a duplicate for a finished saga is answered
// from the record.
func (s *CheckoutServiceImpl) Capture(ctx context.Context, req d.CaptureRequest) (*d.CaptureResult, error) {
	if strings.TrimSpace(req.ReservationID) == "" {
		return nil, d.Errorf(d.KindValidation, "reservation_id is required")
	}

	unlock, err := s.lock(ctx, reservationKey(req.ReservationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	saga, err := s.loadByReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if req.PaymentOrderID != "" && saga.PaymentOrderID != "" && req.PaymentOrderID != saga.PaymentOrderID {
		return nil, &d.SagaError{
			Kind:          d.KindValidation,
			ReservationID: saga.ReservationID,
			Reason:        "payment_order_id does not belong to this reservation",
		}
	}
	return s.drive(ctx, saga)
}

// drive advances the saga until it ends or a step cannot complete now.
func (s *CheckoutServiceImpl) drive(ctx context.Context, saga *d.Saga) (*d.CaptureResult, error) {
	for {
		var err error
		switch saga.State {
		case d.StateOrderCreated:
			res := saga.CaptureResult()
			return &res, nil
		case d.StateFailed, d.StateCompensating:
			if saga.State == d.StateCompensating {
				s.finishCompensation(ctx, saga)
			}
			return nil, failureOf(saga)
		case d.StatePaymentCreated:
			err = s.captureIfLive(ctx, saga)
		case d.StateCaptured:
			err = s.commitInventory(ctx, saga)
		case d.StateInventoryCommitted:
			err = s.createOrder(ctx, saga)
		default:
			// payment order not created yet
			return nil, &d.SagaError{
				Kind:          d.KindInProgress,
				ReservationID: saga.ReservationID,
				Reason:        "checkout has not reached payment approval",
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// captureIfLive captures unless the reservation has lapsed. A lapsed saga
// whose payment was nevertheless captured by an earlier attempt carries on.
func (s *CheckoutServiceImpl) captureIfLive(ctx context.Context, saga *d.Saga) error {
	if !saga.Expired(s.now()) {
		return s.capturePayment(ctx, saga)
	}
	if found, err := s.payment.GetCapture(ctx, saga.PaymentOrderID); err == nil && found.Status == captureCompleted {
		saga.CaptureID = found.ID
		saga.CaptureStatus = found.Status
		saga.PaymentCaptured = true
		if err := s.advance(ctx, saga, d.StateCaptured, r.Effects{Note: "capture " + found.ID + " found after expiry"}); err != nil {
			return storeErr(saga, err)
		}
		return nil
	}
	return s.compensate(ctx, saga, d.KindReservationExpired, "reservation expired before capture", nil)
}
