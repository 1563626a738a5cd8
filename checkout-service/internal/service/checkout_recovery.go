package service

import (
	"context"
	"encoding/json"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

// Resume picks up a saga that stopped between steps, usually because its
// process died. Sagas before capture are failed once they can no longer
// complete; sagas after capture are driven forward.
func (s *CheckoutServiceImpl) Resume(ctx context.Context, sagaID string) error {
	saga, err := s.repo.GetSaga(ctx, sagaID)
	if err != nil {
		return storeErr(nil, err)
	}

	unlockCart, err := s.lock(ctx, cartKey(saga.CartID))
	if err != nil {
		return err
	}
	defer unlockCart()
	if saga.ReservationID != "" {
		unlockRes, err := s.lock(ctx, reservationKey(saga.ReservationID))
		if err != nil {
			return err
		}
		defer unlockRes()
	}

	// reread under the locks
	if saga, err = s.repo.GetSaga(ctx, sagaID); err != nil {
		return storeErr(nil, err)
	}
	sagaLogger(ctx, saga).Info().Str("state", saga.State.String()).Msg("resuming saga")

	switch saga.State {
	case d.StateInit:
		return s.resumeInit(ctx, saga)
	case d.StateReserved:
		err = s.compensate(ctx, saga, d.KindPaymentCreateFailed, "checkout interrupted before payment creation", nil)
	case d.StatePaymentCreated:
		if !saga.Expired(s.now()) {
			return nil
		}
		err = s.captureIfLive(ctx, saga)
		if err == nil {
			_, err = s.drive(ctx, saga)
		}
	case d.StateCaptured, d.StateInventoryCommitted:
		_, err = s.drive(ctx, saga)
	case d.StateCompensating:
		s.finishCompensation(ctx, saga)
		return nil
	default:
		return nil
	}

	if saga.State.IsTerminal() {
		return nil
	}
	return err
}

// resumeInit handles a saga that may or may not hold a reservation. Asking
// inventory again with the same key tells which.
func (s *CheckoutServiceImpl) resumeInit(ctx context.Context, saga *d.Saga) error {
	var cart d.CartSnapshot
	if err := json.Unmarshal(saga.Snapshot, &cart); err != nil {
		return &d.SagaError{Kind: d.KindStorage, Reason: "corrupt cart snapshot", Err: err}
	}
	res, err := s.inventory.Reserve(ctx, ReserveRequest{
		IdempotencyKey: saga.ID,
		CartID:         saga.CartID,
		Items:          reserveItems(&cart),
		Address:        cart.Address,
	})
	switch {
	case err == nil:
		saga.ReservationID = res.ReservationID
		saga.ExpiresAt = res.ExpiresAt
		if !s.releaseInventory(ctx, saga) {
			return &d.SagaError{Kind: d.KindUnavailable, ReservationID: saga.ReservationID, Reason: "release pending"}
		}
	case !remote.IsClientError(err):
		return &d.SagaError{Kind: d.KindUnavailable, Reason: "inventory unavailable", Err: err}
	}

	saga.FailureKind = d.KindReservationFailed
	saga.FailureDetails = "checkout interrupted before reservation completed"
	if err := s.advance(ctx, saga, d.StateFailed, s.failureEffects(saga)); err != nil {
		return storeErr(saga, err)
	}
	return nil
}
