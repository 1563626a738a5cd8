package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart_saga/cart-service/internal/cache"
	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
	"github.com/fjod/go_cart_saga/cart-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/keylock"
)

var (
	ErrCartNotFound = repository.ErrCartNotFound
	// ErrCheckoutInProgress rejects a second reservation on a cart that
	// already points at another one.
	ErrCheckoutInProgress = errors.New("checkout_in_progress")
)

// CartService is the single writer for every cart it owns. Mutations on one
// cart id run one at a time; different ids never wait on each other.
type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	pricing *domain.Pricing
	locks   *keylock.KeyedMutex
	sfg     singleflight.Group
	now     func() time.Time
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, pricing *domain.Pricing) *CartService {
	return &CartService{
		repo:    repo,
		cache:   cache,
		pricing: pricing,
		locks:   keylock.New(),
		now:     time.Now,
	}
}

// GetCart is a pure read: a cart that was never created is ErrCartNotFound.
// A cache miss is filled under the cart lock, so a concurrent Clear cannot be
// undone by a fill from a read that started before it.
func (s *CartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	if cart, err := s.cache.Get(ctx, cartID); err == nil {
		return cart, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", cartID).Msg("cache get failed")
	}

	v, err, _ := s.sfg.Do(cartID, func() (any, error) {
		unlock, err := s.locks.Lock(ctx, cartID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		cart, err := s.repo.GetCart(ctx, cartID)
		if err != nil {
			return nil, err
		}

		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.cache.Fill(fillCtx, cart); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", cartID).Msg("cache fill failed")
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *CartService) GetSummary(ctx context.Context, cartID string) (domain.Summary, error) {
	cart, err := s.GetCart(ctx, cartID)
	if err != nil {
		return domain.Summary{}, err
	}
	return cart.Summary, nil
}

func (s *CartService) AddItem(ctx context.Context, cartID string, item domain.LineItem) (*domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		return c.AddItem(item)
	})
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, cartID, productID, variantID string, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		return c.UpdateItemQuantity(productID, variantID, quantity)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, cartID, productID, variantID string) (*domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		return c.RemoveItem(productID, variantID)
	})
}

func (s *CartService) SetAddress(ctx context.Context, cartID string, addr domain.Address) (*domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		return c.SetAddress(addr)
	})
}

func (s *CartService) SelectShipping(ctx context.Context, cartID, methodID string) (*domain.Cart, error) {
	method, err := s.pricing.Shipping(methodID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		c.SelectShipping(method)
		return nil
	})
}

// ApplyCoupon applies code to the cart; an empty code removes the coupon.
func (s *CartService) ApplyCoupon(ctx context.Context, cartID, code string) (*domain.Cart, error) {
	var rule *domain.CouponRule
	if code != "" {
		r, err := s.pricing.Coupon(code)
		if err != nil {
			return nil, err
		}
		rule = &r
	}
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		c.ApplyCoupon(rule)
		return nil
	})
}

// Clear destroys the cart. Clearing a cart that does not exist succeeds.
func (s *CartService) Clear(ctx context.Context, cartID string) error {
	unlock, err := s.locks.Lock(ctx, cartID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.repo.DeleteCart(ctx, cartID); err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return fmt.Errorf("clear cart %s: %w", cartID, err)
	}
	s.invalidateCache(ctx, cartID)
	return nil
}

// SetSagaPointers records the checkout attempt on the cart. A cart holds at
// most one reservation: setting a different one while another is recorded
// fails with ErrCheckoutInProgress. An empty paymentOrderID leaves the
// current value unchanged.
func (s *CartService) SetSagaPointers(ctx context.Context, cartID, reservationID, paymentOrderID string) (*domain.Cart, error) {
	return s.mutate(ctx, cartID, func(c *domain.Cart) error {
		if c.ReservationID != "" && c.ReservationID != reservationID {
			return fmt.Errorf("%w: cart %s holds reservation %s", ErrCheckoutInProgress, cartID, c.ReservationID)
		}
		c.ReservationID = reservationID
		if paymentOrderID != "" {
			c.PaymentOrderID = paymentOrderID
		}
		return nil
	})
}

// ClearSagaPointers drops the pointers if they still name reservationID. It is
// a no-op for any other reservation and for a cart that no longer exists.
func (s *CartService) ClearSagaPointers(ctx context.Context, cartID, reservationID string) error {
	unlock, err := s.locks.Lock(ctx, cartID)
	if err != nil {
		return err
	}
	defer unlock()

	cart, err := s.repo.GetCart(ctx, cartID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cart.ReservationID != reservationID {
		return nil
	}
	cart.ReservationID = ""
	cart.PaymentOrderID = ""
	return s.save(ctx, cart)
}

// mutate loads (or lazily creates) the cart under its lock, applies fn and
// persists the result with a recomputed summary.
func (s *CartService) mutate(ctx context.Context, cartID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	unlock, err := s.locks.Lock(ctx, cartID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cart, err := s.repo.GetCart(ctx, cartID)
	if errors.Is(err, repository.ErrCartNotFound) {
		cart = domain.NewCart(cartID, s.now())
	} else if err != nil {
		return nil, err
	}

	if err := fn(cart); err != nil {
		return nil, err
	}
	cart.Recompute()

	if err := s.save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartService) save(ctx context.Context, cart *domain.Cart) error {
	cart.UpdatedAt = s.now()
	if err := s.repo.SaveCart(ctx, cart); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("cart_id", cart.ID).Msg("repo save cart failed")
		return err
	}

	if err := s.cache.Set(ctx, cart); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", cart.ID).Msg("cache write-through failed")
		s.invalidateCache(ctx, cart.ID)
	}
	return nil
}

func (s *CartService) invalidateCache(ctx context.Context, cartID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, cartID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("cart_id", cartID).Msg("cache invalidate failed")
	}
}
