// Package server assembles the cart service from configuration so it can run
// as its own binary or in-process next to the other services.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fjod/go_cart_saga/cart-service/internal/cache"
	"github.com/fjod/go_cart_saga/cart-service/internal/domain"
	carthttp "github.com/fjod/go_cart_saga/cart-service/internal/http"
	"github.com/fjod/go_cart_saga/cart-service/internal/poller"
	"github.com/fjod/go_cart_saga/cart-service/internal/repository"
	"github.com/fjod/go_cart_saga/cart-service/internal/service"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

type App struct {
	Handler http.Handler

	db     *mongo.Database
	redis  *redis.Client
	poller *poller.Poller
}

func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	verifier, err := signing.NewVerifier(cfg.Signing.Secret, cfg.Signing.MaxSkew)
	if err != nil {
		return nil, err
	}
	pricing, err := domain.NewPricing(cfg.Cart)
	if err != nil {
		return nil, fmt.Errorf("cart pricing: %w", err)
	}

	db, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, err
	}
	repo := repository.NewMongoRepository(db, cfg.Mongo.Collection, cfg.Cart.TTL)
	if err := repo.CreateIndexes(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	svc := service.NewCartService(repo, cache.NewRedisCache(redisClient), pricing)

	app := &App{
		Handler: NewHandler(svc, verifier, metrics.NewServerMetrics(reg, "cart")),
		db:      db,
		redis:   redisClient,
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		app.poller = poller.NewPoller(svc, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
	}
	return app, nil
}

// NewHandler builds the router: /health is public, everything else must be
// signed.
func NewHandler(carts carthttp.Aggregate, verifier *signing.Verifier, m *metrics.ServerMetrics) http.Handler {
	r := httpx.NewRouter(m.Middleware)
	r.Group(func(r chi.Router) {
		r.Use(verifier.Middleware)
		carthttp.NewCartHandler(carts).Routes(r)
	})
	return r
}

// Run blocks running background consumers until ctx is done.
func (a *App) Run(ctx context.Context) {
	if a.poller == nil {
		<-ctx.Done()
		return
	}
	a.poller.Run(ctx)
}

func (a *App) Close(ctx context.Context) {
	if a.poller != nil {
		a.poller.Close()
	}
	if err := a.redis.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	if err := a.db.Client().Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("mongo disconnect")
	}
}
