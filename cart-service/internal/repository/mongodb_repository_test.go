package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db, "carts", time.Hour)
	require.NoError(t, repo.CreateIndexes(ctx))

	cleanup := func() {
		_ = db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return repo, cleanup
}

func TestGetCart_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	cart, err := repo.GetCart(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestSaveCart_RoundTripsEverything(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	cart := domain.NewCart("cart-1", now)
	require.NoError(t, cart.AddItem(domain.LineItem{
		ProductID:  "p1",
		VariantID:  "v1",
		Quantity:   2,
		UnitPrice:  decimal.RequireFromString("19.99"),
		Title:      "Shirt",
		Attributes: map[string]string{"size": "M"},
	}))
	require.NoError(t, cart.SetAddress(domain.Address{Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}))
	cart.SelectShipping(domain.ShippingMethod{ID: "standard", Label: "Standard", Cost: decimal.RequireFromString("4.99")})
	cart.ApplyCoupon(&domain.CouponRule{Code: "SAVE10", Type: domain.DiscountPercent, Value: decimal.NewFromInt(10)})
	cart.ReservationID = "res_1"

	require.NoError(t, repo.SaveCart(ctx, cart))

	got, err := repo.GetCart(ctx, "cart-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "M", got.Items[0].Attributes["size"])
	assert.Equal(t, "US", got.Address.Country)
	assert.Equal(t, "standard", got.Shipping.MethodID)
	assert.Equal(t, "res_1", got.ReservationID)
	assert.True(t, got.Summary.Total.Equal(cart.Summary.Total), "summary is recomputed on load")
}

func TestSaveCart_Overwrites(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cart := domain.NewCart("cart-2", time.Now())
	require.NoError(t, cart.AddItem(domain.LineItem{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}))
	require.NoError(t, repo.SaveCart(ctx, cart))

	require.NoError(t, cart.RemoveItem("p1", ""))
	require.NoError(t, repo.SaveCart(ctx, cart))

	got, err := repo.GetCart(ctx, "cart-2")
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}

func TestDeleteCart(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.SaveCart(ctx, domain.NewCart("cart-3", time.Now())))
	require.NoError(t, repo.DeleteCart(ctx, "cart-3"))

	_, err := repo.GetCart(ctx, "cart-3")
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.ErrorIs(t, repo.DeleteCart(ctx, "cart-3"), ErrCartNotFound)
}
