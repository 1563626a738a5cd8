package service

import (
	"errors"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

// storeErr maps a saga store failure. A version conflict means another
// process is driving the same saga.
func storeErr(saga *d.Saga, err error) error {
	se := &d.SagaError{Kind: d.KindStorage, Reason: "saga store unavailable", Err: err}
	if saga != nil {
		se.ReservationID = saga.ReservationID
		se.PaymentCaptured = saga.PaymentCaptured
	}
	switch {
	case errors.Is(err, r.ErrSagaNotFound):
		se.Kind, se.Reason = d.KindNotFound, "checkout not found"
	case errors.Is(err, r.ErrVersionConflict):
		se.Kind, se.Reason = d.KindInProgress, "checkout is being advanced by another request"
	}
	return se
}

// remoteReason is the code a collaborator answered with, or a generic
// marker for transport failures.
func remoteReason(err error) string {
	var re *remote.Error
	if errors.As(err, &re) && re.Code != "" {
		return re.Code
	}
	if errors.Is(err, remote.ErrUnavailable) {
		return "unavailable"
	}
	return "unexpected_error"
}

// failureOf rebuilds the recorded failure of a saga that is compensating or
// failed.
func failureOf(saga *d.Saga) error {
	return &d.SagaError{
		Kind:            saga.FailureKind,
		ReservationID:   saga.ReservationID,
		Reason:          saga.FailureDetails,
		PaymentCaptured: saga.PaymentCaptured,
	}
}
