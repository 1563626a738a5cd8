package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
)

// CartCache is a read-through copy of carts keyed by cart id.
type CartCache interface {
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	// Set overwrites the cached copy; writers call it under the cart lock.
	Set(ctx context.Context, cart *domain.Cart) error
	// Fill stores cart only if nothing is cached, so a slow reader can never
	// replace a newer copy written by a mutation.
	Fill(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, cartID string) error
}

var ErrCacheMiss = errors.New("cache miss")
