package domain

import "time"

type StartRequest struct {
	CartID    string `json:"cart_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

type StartResult struct {
	ReservationID  string    `json:"reservation_id"`
	PaymentOrderID string    `json:"payment_order_id"`
	ApproveURL     string    `json:"approve_url"`
	ExpiresAt      time.Time `json:"expires_at"`
	State          State     `json:"state"`
}

type CaptureRequest struct {
	ReservationID  string `json:"reservation_id"`
	PaymentOrderID string `json:"payment_order_id"`
}

type CaptureResult struct {
	OrderID       string `json:"order_id"`
	Status        State  `json:"status"`
	ReservationID string `json:"reservation_id"`
	CaptureID     string `json:"capture_id,omitempty"`
}

// StatusView is the read model of a saga.
type StatusView struct {
	ReservationID   string    `json:"reservation_id"`
	CartID          string    `json:"cart_id"`
	State           State     `json:"state"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentOrderID  string    `json:"payment_order_id,omitempty"`
	ApproveURL      string    `json:"approve_url,omitempty"`
	OrderID         string    `json:"order_id,omitempty"`
	FailureKind     Kind      `json:"failure_kind,omitempty"`
	FailureDetails  string    `json:"failure_details,omitempty"`
	PaymentCaptured bool      `json:"payment_captured"`
	ExpiresAt       time.Time `json:"expires_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
