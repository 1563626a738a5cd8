package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
)

// Start freezes the cart, reserves its stock and creates the payment order
// the user has to approve.
func (s *CheckoutServiceImpl) Start(ctx context.Context, req d.StartRequest) (*d.StartResult, error) {
	if strings.TrimSpace(req.CartID) == "" || strings.TrimSpace(req.UserID) == "" {
		return nil, d.Errorf(d.KindValidation, "cart_id and user_id are required")
	}

	unlock, err := s.lock(ctx, cartKey(req.CartID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.ensureNoActiveSaga(ctx, req.CartID); err != nil {
		return nil, err
	}

	cart, raw, err := s.getCart(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if cart.ReservationID != "" {
		// left behind by a saga that has already ended
		stale := &d.Saga{CartID: req.CartID, ReservationID: cart.ReservationID}
		s.clearCartPointers(ctx, stale)
	}

	saga := &d.Saga{
		ID:       uuid.NewString(),
		CartID:   req.CartID,
		UserID:   req.UserID,
		Email:    req.Email,
		Amount:   cart.Summary.Total.Round(2),
		Currency: s.opts.Currency,
		Snapshot: raw,
	}
	if err := s.repo.CreateSaga(ctx, saga); err != nil {
		return nil, storeErr(saga, err)
	}
	s.metrics.Transition("", d.StateInit.String())

	unlockRes, err := s.reserveInventory(ctx, saga, cart)
	if err != nil {
		return nil, err
	}
	defer unlockRes()
	s.setCartPointers(ctx, saga)

	returnURL, cancelURL := s.opts.ReturnURL, s.opts.CancelURL
	if req.ReturnURL != "" {
		returnURL = req.ReturnURL
	}
	if req.CancelURL != "" {
		cancelURL = req.CancelURL
	}
	if err := s.createPayment(ctx, saga, returnURL, cancelURL); err != nil {
		return nil, err
	}
	s.setCartPointers(ctx, saga)

	res := saga.StartResult()
	return &res, nil
}

// ensureNoActiveSaga rejects a second checkout on a cart. A previous attempt
// whose reservation has lapsed before capture is failed first.
func (s *CheckoutServiceImpl) ensureNoActiveSaga(ctx context.Context, cartID string) error {
	active, err := s.repo.GetActiveSagaByCartID(ctx, cartID)
	if errors.Is(err, r.ErrSagaNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(nil, err)
	}

	if !s.lapsed(active) {
		return inProgress(active)
	}

	unlock, err := s.lock(ctx, reservationKey(active.ReservationID))
	if err != nil {
		return err
	}
	defer unlock()

	// a capture may have won the race for the reservation lock
	if active, err = s.repo.GetSaga(ctx, active.ID); err != nil {
		return storeErr(nil, err)
	}
	if active.State.IsTerminal() {
		return nil
	}
	if !s.lapsed(active) {
		return inProgress(active)
	}

	err = s.compensate(ctx, active, d.KindReservationExpired, "reservation expired before capture", nil)
	if d.KindOf(err) != d.KindReservationExpired {
		return err
	}
	return nil
}

// lapsed reports a saga still waiting for capture whose reservation expired.
func (s *CheckoutServiceImpl) lapsed(saga *d.Saga) bool {
	waiting := saga.State == d.StateReserved || saga.State == d.StatePaymentCreated
	return waiting && saga.Expired(s.now())
}

func inProgress(saga *d.Saga) error {
	return &d.SagaError{
		Kind:          d.KindInProgress,
		ReservationID: saga.ReservationID,
		Reason:        "cart already has an active checkout",
	}
}
