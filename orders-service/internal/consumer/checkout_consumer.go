package consumer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_cart_saga/orders-service/internal/domain"
	"github.com/fjod/go_cart_saga/orders-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/events"
)

// OrderAdvancer is the part of the order store the consumer needs.
type OrderAdvancer interface {
	GetOrderByReservationID(ctx context.Context, reservationID string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error)
}

// Consumer hands completed checkouts to fulfillment by moving their orders
// from CONFIRMED to PROCESSING.
type Consumer struct {
	repo   OrderAdvancer
	reader *kafka.Reader
}

func NewConsumer(repo OrderAdvancer, topic, groupID string, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{repo, reader}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		log.Error().Err(err).Msg("error closing kafka reader")
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("error reading message")
		return
	}

	if err := c.handle(ctx, m); err != nil {
		// left uncommitted so the group redelivers it
		log.Error().Err(err).Int64("offset", m.Offset).Msg("failed to handle checkout event")
		return
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Error().Err(err).Msg("error committing message")
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	event, err := events.Decode(m)
	if err != nil {
		log.Warn().Err(err).Msg("skipping malformed checkout event")
		return nil
	}
	if event.Type != events.TypeCheckoutCompleted {
		return nil
	}

	order, err := c.repo.GetOrderByReservationID(ctx, event.ReservationID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		log.Warn().Str("reservation_id", event.ReservationID).Msg("no order for completed checkout, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusConfirmed {
		return nil
	}

	_, err = c.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusProcessing)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// advanced concurrently
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("order_id", order.ID.String()).Str("reservation_id", event.ReservationID).Msg("order released to fulfillment")
	return nil
}
