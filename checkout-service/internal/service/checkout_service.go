package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/events"
	"github.com/fjod/go_cart_saga/pkg/keylock"
	"github.com/fjod/go_cart_saga/pkg/metrics"
)

type CheckoutService interface {
	Start(ctx context.Context, req d.StartRequest) (*d.StartResult, error)
	Capture(ctx context.Context, req d.CaptureRequest) (*d.CaptureResult, error)
	Cancel(ctx context.Context, reservationID string) (*d.StatusView, error)
	Status(ctx context.Context, reservationID string) (*d.StatusView, error)
	Resume(ctx context.Context, sagaID string) error
	Reconciliations(ctx context.Context) ([]r.Reconciliation, error)
}

type Options struct {
	Currency  string
	ReturnURL string
	CancelURL string

	// Post-capture steps are retried within these bounds.
	RetryInitialInterval time.Duration
	RetryMaxTries        uint
	RetryMaxElapsed      time.Duration

	Metrics *metrics.SagaMetrics
}

func OptionsFromConfig(cfg *config.Config, m *metrics.SagaMetrics) Options {
	return Options{
		Currency:        cfg.PayPal.Currency,
		ReturnURL:       cfg.PayPal.ReturnURL,
		CancelURL:       cfg.PayPal.CancelURL,
		RetryMaxTries:   cfg.Saga.CommitMaxTries,
		RetryMaxElapsed: cfg.Saga.CommitMaxElapsed,
		Metrics:         m,
	}
}

type CheckoutServiceImpl struct {
	repo      r.RepoInterface
	cart      CartClient
	inventory InventoryClient
	orders    OrdersClient
	payment   PaymentGateway
	locks     *keylock.KeyedMutex
	metrics   *metrics.SagaMetrics
	opts      Options
	now       func() time.Time
}

func NewCheckoutService(
	repo r.RepoInterface,
	cart CartClient,
	inventory InventoryClient,
	orders OrdersClient,
	pay PaymentGateway,
	opts Options,
) *CheckoutServiceImpl {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 200 * time.Millisecond
	}
	if opts.RetryMaxTries == 0 {
		opts.RetryMaxTries = 8
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = 2 * time.Minute
	}
	return &CheckoutServiceImpl{
		repo:      repo,
		cart:      cart,
		inventory: inventory,
		orders:    orders,
		payment:   pay,
		locks:     keylock.New(),
		metrics:   opts.Metrics,
		opts:      opts,
		now:       time.Now,
	}
}

// lock serializes every path that can advance the sagas under key.
func (s *CheckoutServiceImpl) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		return nil, &d.SagaError{Kind: d.KindUnavailable, Reason: "request cancelled while waiting for checkout", Err: err}
	}
	return unlock, nil
}

func reservationKey(id string) string { return "reservation:" + id }

func cartKey(id string) string { return "cart:" + id }

func (s *CheckoutServiceImpl) loadByReservation(ctx context.Context, reservationID string) (*d.Saga, error) {
	if strings.TrimSpace(reservationID) == "" {
		return nil, d.Errorf(d.KindValidation, "reservation_id is required")
	}
	saga, err := s.repo.GetSagaByReservationID(ctx, reservationID)
	if err != nil {
		return nil, storeErr(&d.Saga{ReservationID: reservationID}, err)
	}
	return saga, nil
}

func (s *CheckoutServiceImpl) Status(ctx context.Context, reservationID string) (*d.StatusView, error) {
	saga, err := s.loadByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	view := saga.View()
	return &view, nil
}

func (s *CheckoutServiceImpl) Reconciliations(ctx context.Context) ([]r.Reconciliation, error) {
	recs, err := s.repo.GetPendingReconciliations(ctx)
	if err != nil {
		return nil, storeErr(nil, err)
	}
	return recs, nil
}

// Cancel abandons a checkout whose payment has not been captured. Cancelling
// an already failed checkout answers its current view.
func (s *CheckoutServiceImpl) Cancel(ctx context.Context, reservationID string) (*d.StatusView, error) {
	unlock, err := s.lock(ctx, reservationKey(reservationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	saga, err := s.loadByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	switch saga.State {
	case d.StateReserved, d.StatePaymentCreated:
		err := s.compensate(ctx, saga, d.KindPaymentCancelled, "payment approval was cancelled", nil)
		if d.KindOf(err) != d.KindPaymentCancelled {
			return nil, err
		}
	case d.StateCompensating:
		s.finishCompensation(ctx, saga)
	case d.StateFailed:
	default:
		return nil, &d.SagaError{
			Kind:            d.KindValidation,
			ReservationID:   saga.ReservationID,
			Reason:          "payment already captured; checkout can no longer be cancelled",
			PaymentCaptured: saga.PaymentCaptured,
		}
	}
	view := saga.View()
	return &view, nil
}

// advance persists a transition and records it in logs and metrics.
func (s *CheckoutServiceImpl) advance(ctx context.Context, saga *d.Saga, next d.State, eff r.Effects) error {
	from := saga.State
	if err := s.repo.Transition(ctx, saga, next, eff); err != nil {
		return err
	}
	s.metrics.Transition(from.String(), next.String())
	if next.IsTerminal() {
		s.metrics.Outcome(next.String(), string(saga.FailureKind))
	}
	sagaLogger(ctx, saga).Info().
		Str("from", from.String()).
		Str("to", next.String()).
		Msg("saga transition")
	return nil
}

func (s *CheckoutServiceImpl) event(saga *d.Saga, eventType string) events.Checkout {
	return events.Checkout{
		Type:           eventType,
		ReservationID:  saga.ReservationID,
		CartID:         saga.CartID,
		UserID:         saga.UserID,
		OrderID:        saga.OrderID,
		PaymentOrderID: saga.PaymentOrderID,
		CaptureID:      saga.CaptureID,
		Amount:         saga.Amount.StringFixed(2),
		Currency:       saga.Currency,
		FailureKind:    string(saga.FailureKind),
		OccurredAt:     s.now().UTC(),
	}
}

func sagaLogger(ctx context.Context, saga *d.Saga) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().
		Ctx(ctx).
		Str("saga_id", saga.ID).
		Str("reservation_id", saga.ReservationID).
		Logger()
	return &l
}

// setCartPointers and clearCartPointers are best effort: the saga record is
// the source of truth, the cart pointers only guard against a second start.
func (s *CheckoutServiceImpl) setCartPointers(ctx context.Context, saga *d.Saga) {
	if err := s.cart.SetSagaPointers(ctx, saga.CartID, saga.ReservationID, saga.PaymentOrderID); err != nil {
		sagaLogger(ctx, saga).Warn().Err(err).Msg("could not set cart saga pointers")
	}
}

func (s *CheckoutServiceImpl) clearCartPointers(ctx context.Context, saga *d.Saga) {
	if saga.ReservationID == "" {
		return
	}
	err := s.cart.ClearSagaPointers(ctx, saga.CartID, saga.ReservationID)
	if err != nil && !errors.Is(err, context.Canceled) {
		sagaLogger(ctx, saga).Warn().Err(err).Msg("could not clear cart saga pointers")
	}
}
