package service

import (
	"context"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/events"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

// compensate records the failure and undoes what the saga has done so far.
// It returns the failure as a *d.SagaError of the given kind, or a storage
// error when the failure itself could not be recorded.
func (s *CheckoutServiceImpl) compensate(ctx context.Context, saga *d.Saga, kind d.Kind, reason string, cause error) error {
	saga.FailureKind = kind
	saga.FailureDetails = reason
	failure := &d.SagaError{
		Kind:            kind,
		ReservationID:   saga.ReservationID,
		Reason:          reason,
		PaymentCaptured: saga.PaymentCaptured,
		Err:             cause,
	}
	sagaLogger(ctx, saga).Warn().Err(cause).
		Str("kind", string(kind)).
		Str("state", saga.State.String()).
		Msg("compensating checkout")

	// nothing was reserved yet
	if saga.State == d.StateInit {
		if err := s.advance(ctx, saga, d.StateFailed, s.failureEffects(saga)); err != nil {
			return storeErr(saga, err)
		}
		return failure
	}

	if err := s.advance(ctx, saga, d.StateCompensating, r.Effects{Note: reason}); err != nil {
		return storeErr(saga, err)
	}
	s.finishCompensation(ctx, saga)
	return failure
}

// finishCompensation releases the reservation and fails the saga. When the
// release cannot be confirmed the saga stays Compensating for recovery.
func (s *CheckoutServiceImpl) finishCompensation(ctx context.Context, saga *d.Saga) {
	if !s.releaseInventory(ctx, saga) {
		return
	}
	if err := s.advance(ctx, saga, d.StateFailed, s.failureEffects(saga)); err != nil {
		sagaLogger(ctx, saga).Error().Err(err).Msg("could not record failed checkout")
		return
	}
	if saga.FailureKind == d.KindPostCaptureFailure {
		s.metrics.ReconciliationQueued()
		sagaLogger(ctx, saga).Error().
			Str("capture_id", saga.CaptureID).
			Str("amount", saga.Amount.StringFixed(2)).
			Str("currency", saga.Currency).
			Msg("payment captured but stock not committed, queued for manual reconciliation")
	}
	s.clearCartPointers(ctx, saga)
}

// releaseInventory reports whether the reservation is known to be gone.
// Release is idempotent on the inventory side; a 4xx answer means there is
// nothing left to release.
func (s *CheckoutServiceImpl) releaseInventory(ctx context.Context, saga *d.Saga) bool {
	if saga.ReservationID == "" {
		return true
	}
	err := s.inventory.Release(ctx, saga.ReservationID)
	if err == nil || remote.IsClientError(err) {
		if err != nil {
			sagaLogger(ctx, saga).Warn().Err(err).Msg("reservation release rejected")
		}
		return true
	}
	sagaLogger(ctx, saga).Warn().Err(err).Msg("reservation release failed, will retry")
	return false
}

func (s *CheckoutServiceImpl) failureEffects(saga *d.Saga) r.Effects {
	eff := r.Effects{
		Note:   saga.FailureDetails,
		Events: []events.Checkout{s.event(saga, events.TypeCheckoutFailed)},
	}
	if saga.FailureKind == d.KindPostCaptureFailure {
		eff.Events = append(eff.Events, s.event(saga, events.TypeReconciliationRequired))
		eff.Reconciliation = &r.Reconciliation{
			ReservationID:  saga.ReservationID,
			PaymentOrderID: saga.PaymentOrderID,
			CaptureID:      saga.CaptureID,
			Amount:         saga.Amount.StringFixed(2),
			Currency:       saga.Currency,
			Reason:         saga.FailureDetails,
		}
	}
	return eff
}
