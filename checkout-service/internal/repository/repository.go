package repository

import (
	"context"
	"errors"
	"time"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/pkg/events"
)

var (
	ErrSagaNotFound      = errors.New("saga not found")
	ErrVersionConflict   = errors.New("saga was changed by another writer")
	ErrIllegalTransition = errors.New("illegal saga transition")
)

type Credentials struct {
	Path              string
	MigrationsDirPath string
}

// Effects are written in the same transaction as a state change.
type Effects struct {
	Events         []events.Checkout
	Reconciliation *Reconciliation
	Note           string
}

// Reconciliation is a captured payment whose stock could not be committed.
// An operator settles it by hand.
type Reconciliation struct {
	ID             int64
	SagaID         string
	ReservationID  string
	PaymentOrderID string
	CaptureID      string
	Amount         string
	Currency       string
	Reason         string
	CreatedAt      time.Time
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type LogEntry struct {
	SagaID    string
	From      d.State
	To        d.State
	Note      string
	CreatedAt time.Time
}

type RepoInterface interface {
	Close() error
	RunMigrations(*Credentials) error

	CreateSaga(ctx context.Context, s *d.Saga) error
	GetSaga(ctx context.Context, id string) (*d.Saga, error)
	GetSagaByReservationID(ctx context.Context, reservationID string) (*d.Saga, error)
	GetActiveSagaByCartID(ctx context.Context, cartID string) (*d.Saga, error)
	// Transition moves s to next if nobody else moved it since it was read.
	// On success s carries the new state and version.
	Transition(ctx context.Context, s *d.Saga, next d.State, eff Effects) error
	GetStuckSagas(ctx context.Context, olderThan time.Time, limit int) ([]*d.Saga, error)
	GetSagaLog(ctx context.Context, sagaID string) ([]LogEntry, error)
	GetPendingReconciliations(ctx context.Context) ([]Reconciliation, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
