package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository is the durable store behind the cart aggregate. It stores
// whole carts; the aggregate applies mutations in memory under its lock.
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, cartID string) error
}
