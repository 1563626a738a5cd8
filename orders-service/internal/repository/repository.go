package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/fjod/go_cart_saga/orders-service/internal/domain"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrStorage marks failures of the database itself. Callers may retry.
	ErrStorage = errors.New("storage error")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OrderRepository interface {
	// CreateOrder inserts order unless one already exists for its
	// reservation id, in which case the existing row is returned and
	// created is false.
	CreateOrder(ctx context.Context, order *domain.Order) (stored *domain.Order, created bool, err error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByReservationID(ctx context.Context, reservationID string) (*domain.Order, error)
	// GetOrdersByUserID pages through a user's orders, newest first.
	GetOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)
	// UpdateOrderStatus moves an order forward. Writing the current status
	// again is a no-op.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
	Close() error
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
