package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Saga is the persisted state of one checkout attempt. Amount and currency
// are frozen at start and are the only values ever sent to the processor.
type Saga struct {
	ID            string
	ReservationID string
	CartID        string
	UserID        string
	Email         string
	State         State

	Amount   decimal.Decimal
	Currency string
	Snapshot json.RawMessage

	PaymentOrderID string
	ApproveURL     string
	CaptureID      string
	CaptureStatus  string
	OrderID        string

	FailureKind    Kind
	FailureDetails string
	// PaymentCaptured stays true once money has moved, even after the saga
	// has failed.
	PaymentCaptured bool

	ExpiresAt time.Time
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Saga) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Err rebuilds the failure recorded on a failed saga.
func (s *Saga) Err() *SagaError {
	if s.State != StateFailed {
		return nil
	}
	return &SagaError{
		Kind:            s.FailureKind,
		ReservationID:   s.ReservationID,
		Reason:          s.FailureDetails,
		PaymentCaptured: s.PaymentCaptured,
	}
}

func (s *Saga) View() StatusView {
	return StatusView{
		ReservationID:   s.ReservationID,
		CartID:          s.CartID,
		State:           s.State,
		Amount:          s.Amount.StringFixed(2),
		Currency:        s.Currency,
		PaymentOrderID:  s.PaymentOrderID,
		ApproveURL:      s.ApproveURL,
		OrderID:         s.OrderID,
		FailureKind:     s.FailureKind,
		FailureDetails:  s.FailureDetails,
		PaymentCaptured: s.PaymentCaptured,
		ExpiresAt:       s.ExpiresAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (s *Saga) StartResult() StartResult {
	return StartResult{
		ReservationID:  s.ReservationID,
		PaymentOrderID: s.PaymentOrderID,
		ApproveURL:     s.ApproveURL,
		ExpiresAt:      s.ExpiresAt,
		State:          s.State,
	}
}

func (s *Saga) CaptureResult() CaptureResult {
	return CaptureResult{
		OrderID:       s.OrderID,
		Status:        s.State,
		ReservationID: s.ReservationID,
		CaptureID:     s.CaptureID,
	}
}
