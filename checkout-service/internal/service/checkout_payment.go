package service

import (
	"context"
	"errors"
	"net/url"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/checkout-service/internal/payment"
)

const captureCompleted = "COMPLETED"

// createPayment moves Reserved to PaymentCreated. The amount sent is the
// frozen saga amount, never anything the caller supplies.
func (s *CheckoutServiceImpl) createPayment(ctx context.Context, saga *d.Saga, returnURL, cancelURL string) error {
	if saga.Expired(s.now()) {
		return s.compensate(ctx, saga, d.KindReservationExpired, "reservation expired before payment creation", nil)
	}

	order, err := s.payment.CreateOrder(ctx, saga.ReservationID, saga.Amount.StringFixed(2), saga.Currency,
		withReservation(returnURL, saga.ReservationID), withReservation(cancelURL, saga.ReservationID))
	if err != nil {
		return s.compensate(ctx, saga, d.KindPaymentCreateFailed, paymentReason(err), err)
	}

	saga.PaymentOrderID = order.ID
	saga.ApproveURL = order.ApproveURL
	if err := s.advance(ctx, saga, d.StatePaymentCreated, r.Effects{Note: "payment order " + order.ID}); err != nil {
		return storeErr(saga, err)
	}
	return nil
}

// withReservation tags a processor redirect URL with the reservation so the
// buyer's return can name the saga it belongs to.
func withReservation(raw, reservationID string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("reservation_id", reservationID)
	u.RawQuery = q.Encode()
	return u.String()
}

// capturePayment moves PaymentCreated to Captured. A capture whose outcome is
// unknown is looked up before the saga gives up on it.
func (s *CheckoutServiceImpl) capturePayment(ctx context.Context, saga *d.Saga) error {
	capture, err := s.payment.CaptureOrder(ctx, saga.PaymentOrderID)
	if err != nil && (payment.AlreadyCaptured(err) || !definitive(err)) {
		if found, lookupErr := s.payment.GetCapture(ctx, saga.PaymentOrderID); lookupErr == nil && found.ID != "" {
			sagaLogger(ctx, saga).Info().Err(err).Str("capture_id", found.ID).Msg("recovered existing capture")
			capture, err = found, nil
		}
	}
	if err == nil && capture.Status != captureCompleted {
		err = &payment.Error{Code: payment.CodeCaptureFailed, Body: "capture status " + capture.Status}
	}
	if err != nil {
		return s.compensate(ctx, saga, d.KindCaptureFailed, paymentReason(err), err)
	}

	saga.CaptureID = capture.ID
	saga.CaptureStatus = capture.Status
	saga.PaymentCaptured = true
	if err := s.advance(ctx, saga, d.StateCaptured, r.Effects{Note: "capture " + capture.ID}); err != nil {
		// money moved; the capture is found again by order id on retry
		return storeErr(saga, err)
	}
	return nil
}

func definitive(err error) bool {
	var pe *payment.Error
	return errors.As(err, &pe) && pe.Definitive()
}

func paymentReason(err error) string {
	var pe *payment.Error
	if !errors.As(err, &pe) {
		return "payment processor unavailable"
	}
	if pe.Issue != "" {
		return pe.Code + ": " + pe.Issue
	}
	return pe.Code
}
