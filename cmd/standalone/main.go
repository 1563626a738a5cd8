// Command standalone runs every service in one process. Services call each
// other through in-process remotes that still sign and verify every request,
// so the wiring matches the distributed deployment.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	gateway "github.com/fjod/go_cart_saga/api-gateway/server"
	cart "github.com/fjod/go_cart_saga/cart-service/server"
	checkout "github.com/fjod/go_cart_saga/checkout-service/server"
	inventory "github.com/fjod/go_cart_saga/inventory-service/server"
	orders "github.com/fjod/go_cart_saga/orders-service/server"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/logger"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/telemetry"
)

const serviceName = "standalone"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(logger.Config{Service: serviceName, Level: cfg.Service.LogLevel, Pretty: cfg.Service.LogPretty})
	for name, rc := range cfg.Remotes {
		rc.Mode = config.RemoteLocal
		cfg.Remotes[name] = rc
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer(context.Background())

	reg := prometheus.NewRegistry()

	inventoryApp, err := inventory.New(cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("inventory service")
	}
	defer inventoryApp.Close()

	cartApp, err := cart.New(ctx, withGroup(cfg, "cart-service"), reg)
	if err != nil {
		log.Fatal().Err(err).Msg("cart service")
	}
	defer cartApp.Close(context.Background())

	ordersApp, err := orders.New(ctx, withGroup(cfg, "orders-service"), reg)
	if err != nil {
		log.Fatal().Err(err).Msg("orders service")
	}
	defer ordersApp.Close()

	checkoutApp, err := checkout.New(ctx, cfg, reg, checkout.Peers{
		"cart":      cartApp.Handler,
		"inventory": inventoryApp.Handler,
		"orders":    ordersApp.Handler,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("checkout service")
	}
	defer checkoutApp.Close()

	gatewayHandler, err := gateway.New(cfg, reg, gateway.Peers{
		"cart":     cartApp.Handler,
		"checkout": checkoutApp.Handler,
		"orders":   ordersApp.Handler,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("api gateway")
	}

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){cartApp.Run, ordersApp.Run, checkoutApp.Run} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	// Only the gateway is reachable from outside.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.Handle("/", gatewayHandler)

	if err := httpx.Serve(ctx, serviceName, ":"+cfg.HTTP.Port, mux, cfg.HTTP.ShutdownTimeout); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	stop()
	wg.Wait()
	log.Info().Msg("standalone stopped")
}

// withGroup gives each checkout-event consumer its own Kafka group so both
// see every event.
func withGroup(cfg *config.Config, group string) *config.Config {
	c := *cfg
	c.Kafka.GroupID = group
	return &c
}
