package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/events"
)

const (
	batchSize  = 100
	stuckBatch = 50
)

// MessageWriter is the part of *kafka.Writer the poller uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Resumer drives a saga that stopped between steps.
type Resumer interface {
	Resume(ctx context.Context, sagaID string) error
}

type Options struct {
	EventTick    time.Duration
	RecoveryTick time.Duration
	// Sagas untouched for longer than StuckAfter are handed to the Resumer.
	StuckAfter time.Duration
	Timeout    time.Duration
}

// OutboxPoller publishes outbox rows to Kafka and restarts stuck sagas.
type OutboxPoller struct {
	opts   Options
	repo   r.RepoInterface
	sagas  Resumer
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = events.DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

// NewOutboxPoller builds a poller. A nil writer disables publishing and
// leaves rows in the outbox; a nil resumer disables recovery.
func NewOutboxPoller(repo r.RepoInterface, sagas Resumer, writer MessageWriter, opts Options) *OutboxPoller {
	if opts.EventTick <= 0 {
		opts.EventTick = time.Second
	}
	if opts.RecoveryTick <= 0 {
		opts.RecoveryTick = 30 * time.Second
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &OutboxPoller{opts: opts, repo: repo, sagas: sagas, writer: writer, now: time.Now}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.opts.EventTick)
	recoveryTicker := time.NewTicker(p.opts.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.recoverStuckSagas(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() {
	if p.writer == nil {
		return
	}
	if err := p.writer.Close(); err != nil {
		log.Error().Err(err).Msg("error closing kafka writer")
	}
}

// processUnpublishedEvents publishes in outbox order and stops at the first
// failure so a later event never overtakes an earlier one for the same
// reservation.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	if p.writer == nil {
		return
	}
	rows, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch outbox events")
		return
	}

	for _, event := range rows {
		if err := p.publish(ctx, event); err != nil {
			log.Error().Err(err).Int64("event_id", event.ID).Msg("failed to publish outbox event")
			return
		}
		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			log.Error().Err(err).Int64("event_id", event.ID).Msg("failed to mark outbox event as processed")
			return
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *r.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: events.HeaderEventType, Value: []byte(event.EventType)},
		},
	})
}

// recoverStuckSagas resumes sagas that sat in a non-terminal state for too
// long, typically after a crash. One failing saga does not block the rest.
func (p *OutboxPoller) recoverStuckSagas(ctx context.Context) {
	if p.sagas == nil {
		return
	}
	stuck, err := p.repo.GetStuckSagas(ctx, p.now().Add(-p.opts.StuckAfter), stuckBatch)
	if err != nil {
		log.Error().Err(err).Msg("failed to get stuck sagas")
		return
	}
	for _, saga := range stuck {
		logger := log.With().
			Str("saga_id", saga.ID).
			Str("reservation_id", saga.ReservationID).
			Str("state", saga.State.String()).
			Logger()
		logger.Info().Msg("resuming stuck saga")
		if err := p.sagas.Resume(ctx, saga.ID); err != nil {
			logger.Warn().Err(err).Msg("stuck saga not finished")
			continue
		}
		logger.Info().Msg("stuck saga resumed")
	}
}
