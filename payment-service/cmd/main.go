package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/fjod/go_cart_saga/payment-service/internal/sandbox"
	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/logger"
)

const serviceName = "payment-service"

func main() {
	cfg, err := config.Read(serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(logger.Config{Service: serviceName, Level: cfg.Service.LogLevel, Pretty: cfg.Service.LogPretty})

	if cfg.PayPal.ClientID == "" || cfg.PayPal.ClientSecret == "" {
		log.Fatal().Msg("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required")
	}
	public := cfg.PayPal.SandboxPublicURL
	if public == "" {
		public = "http://localhost:" + cfg.HTTP.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sb := sandbox.New(sandbox.Config{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		PublicURL:    public,
	}, sandbox.RandomDecider{})

	r := httpx.NewRouter()
	sb.Routes(r)

	if err := httpx.Serve(ctx, serviceName, ":"+cfg.HTTP.Port, r, cfg.HTTP.ShutdownTimeout); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
