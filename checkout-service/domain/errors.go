package domain

import (
	"errors"
	"fmt"
)

// Kind is the error code reported to callers of the checkout service.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindInProgress          Kind = "checkout_in_progress"
	KindReservationFailed   Kind = "reservation_failed"
	KindReservationExpired  Kind = "reservation_expired"
	KindPaymentCreateFailed Kind = "payment_create_failed"
	KindCaptureFailed       Kind = "payment_capture_failed"
	KindPaymentCancelled    Kind = "payment_cancelled"
	KindPostCaptureFailure  Kind = "post_capture_inventory_failure"
	KindUnavailable         Kind = "service_unavailable"
	KindStorage             Kind = "storage_error"
)

// Retryable reports whether the same request may succeed later without any
// change on the caller's side.
func (k Kind) Retryable() bool {
	return k == KindUnavailable || k == KindStorage || k == KindInProgress
}

// SagaError is the only error type the orchestrator returns. Downstream
// errors are kept in Err for logs and never shown to callers.
type SagaError struct {
	Kind            Kind
	ReservationID   string
	Reason          string
	PaymentCaptured bool
	Err             error
}

func (e *SagaError) Error() string {
	msg := string(e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

// Details is the details object of the error body.
func (e *SagaError) Details() map[string]any {
	d := map[string]any{}
	if e.ReservationID != "" {
		d["reservation_id"] = e.ReservationID
	}
	if e.Reason != "" {
		d["reason"] = e.Reason
	}
	if e.PaymentCaptured {
		d["payment_captured"] = true
	}
	if e.Kind.Retryable() {
		d["retryable"] = true
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

func NewError(kind Kind, reservationID, reason string, err error) *SagaError {
	return &SagaError{Kind: kind, ReservationID: reservationID, Reason: reason, Err: err}
}

func Errorf(kind Kind, format string, args ...any) *SagaError {
	return &SagaError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a SagaError in err's chain, or storage_error.
func KindOf(err error) Kind {
	var se *SagaError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStorage
}
