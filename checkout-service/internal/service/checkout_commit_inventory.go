package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

// commitInventory moves Captured to InventoryCommitted. Money has moved, so
// transient failures are retried and the work is detached from the caller's
// cancellation. A definitive rejection fails the saga for reconciliation;
// exhausted retries leave it Captured for the recovery poller.
func (s *CheckoutServiceImpl) commitInventory(ctx context.Context, saga *d.Saga) error {
	ctx = context.WithoutCancel(ctx)

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.metrics.CommitRetried()
		}
		err := s.inventory.Commit(ctx, saga.ReservationID)
		if err != nil && remote.IsClientError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, s.retryOptions(ctx, saga, "inventory commit")...)

	switch {
	case err == nil:
	case remote.IsClientError(err):
		return s.compensate(ctx, saga, d.KindPostCaptureFailure, remoteReason(err), err)
	default:
		return &d.SagaError{
			Kind:            d.KindUnavailable,
			ReservationID:   saga.ReservationID,
			Reason:          "payment captured; stock commit pending",
			PaymentCaptured: true,
			Err:             err,
		}
	}

	if err := s.advance(ctx, saga, d.StateInventoryCommitted, r.Effects{Note: "stock committed"}); err != nil {
		return storeErr(saga, err)
	}
	return nil
}

func (s *CheckoutServiceImpl) retryOptions(ctx context.Context, saga *d.Saga, step string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitialInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.opts.RetryMaxTries),
		backoff.WithMaxElapsedTime(s.opts.RetryMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			sagaLogger(ctx, saga).Warn().Err(err).Dur("retry_in", next).Str("step", step).Msg("retrying saga step")
		}),
	}
}

// transient reports an error worth retrying: the remote could not be reached
// or failed on its side.
func transient(err error) bool {
	return errors.Is(err, remote.ErrUnavailable)
}
