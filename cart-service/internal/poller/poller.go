package poller

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_cart_saga/pkg/events"
)

// CartClearer is the part of the cart service the poller drives.
type CartClearer interface {
	Clear(ctx context.Context, cartID string) error
}

// Poller consumes checkout events and destroys carts whose checkout produced
// an order.
type Poller struct {
	carts  CartClearer
	reader *kafka.Reader
}

func NewPoller(carts CartClearer, topic, groupID string, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, reader: reader}
}

// Run fetches and commits messages until ctx is done. A message is committed
// only after it has been handled, so a crash redelivers it; Clear is
// idempotent.
func (p *Poller) Run(ctx context.Context) {
	for {
		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("error fetching checkout event")
			continue
		}

		if err := p.handle(ctx, m); err != nil {
			log.Error().Err(err).Int64("offset", m.Offset).Msg("failed to handle checkout event")
			continue
		}
		if err := p.reader.CommitMessages(ctx, m); err != nil {
			log.Error().Err(err).Msg("error committing checkout event")
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		log.Error().Err(err).Msg("error closing reader")
	}
}

func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	e, err := events.Decode(m)
	if err != nil {
		// Poison messages are logged and skipped rather than retried forever.
		log.Warn().Err(err).Msg("skipping malformed checkout event")
		return nil
	}
	if e.Type != events.TypeCheckoutCompleted || e.CartID == "" {
		return nil
	}

	if err := p.carts.Clear(ctx, e.CartID); err != nil {
		return err
	}
	log.Info().Str("cart_id", e.CartID).Str("order_id", e.OrderID).Msg("cart cleared after checkout")
	return nil
}
