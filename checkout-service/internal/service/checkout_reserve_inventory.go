package service

import (
	"context"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
)

// reserveInventory moves Init to Reserved. The saga id is the idempotency
// key, so asking again after a lost answer yields the same reservation.
// On success the reservation lock is held and the returned func releases it.
func (s *CheckoutServiceImpl) reserveInventory(ctx context.Context, saga *d.Saga, cart *d.CartSnapshot) (func(), error) {
	res, err := s.inventory.Reserve(ctx, ReserveRequest{
		IdempotencyKey: saga.ID,
		CartID:         saga.CartID,
		Items:          reserveItems(cart),
		Address:        cart.Address,
	})
	if err != nil {
		return nil, s.compensate(ctx, saga, d.KindReservationFailed, remoteReason(err), err)
	}

	// taken before the id is persisted so Cancel and Capture wait for Start
	unlock, err := s.lock(context.WithoutCancel(ctx), reservationKey(res.ReservationID))
	if err != nil {
		return nil, err
	}

	saga.ReservationID = res.ReservationID
	saga.ExpiresAt = res.ExpiresAt
	if err := s.advance(ctx, saga, d.StateReserved, r.Effects{Note: "stock reserved"}); err != nil {
		// the saga is still Init; recovery finds the reservation again by key
		s.releaseInventory(ctx, saga)
		unlock()
		return nil, storeErr(saga, err)
	}
	return unlock, nil
}
