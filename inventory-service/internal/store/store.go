package store

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/fjod/go_cart_saga/inventory-service/internal/domain"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrAddressUnservable   = errors.New("address unservable")
	ErrEmptyReservation    = errors.New("reservation has no items")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationExpired  = errors.New("reservation has expired")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
)

type ReserveRequest struct {
	// IdempotencyKey makes a retried reserve return the original reservation.
	IdempotencyKey string
	CartID         string
	Items          []domain.ReservationItem
	Address        domain.Address
}

type InventoryStore interface {
	GetStock(skus []string) ([]domain.StockInfo, error)

	// Reserve holds stock for every item or for none of them.
	Reserve(req ReserveRequest) (*domain.Reservation, error)

	GetReservation(reservationID string) (*domain.Reservation, error)

	// Commit turns the hold into a permanent decrement. Committing a
	// committed reservation succeeds without touching stock.
	Commit(reservationID string) (*domain.Reservation, error)

	// Release returns held stock. Releasing a released or expired
	// reservation succeeds; a committed one cannot be released.
	Release(reservationID string) (*domain.Reservation, error)

	SetStock(sku string, quantity int, price decimal.Decimal) error

	Close() error
}
