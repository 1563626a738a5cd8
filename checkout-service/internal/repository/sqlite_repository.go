package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
)

const sagaColumns = `id, COALESCE(reservation_id, ''), cart_id, user_id, email, state, amount, currency,
	snapshot, payment_order_id, approve_url, capture_id, capture_status, order_id,
	failure_kind, failure_details, payment_captured, expires_at, version, created_at, updated_at`

const terminalStates = `('OrderCreated', 'Failed')`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(cred *Credentials) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", cred.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// one writer; every statement inside a transaction must go through tx
	db.SetMaxOpenConns(1)
	log.Info().Str("path", cred.Path).Msg("saga store opened")
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{MigrationsTable: "checkout_schema_migrations"})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) CreateSaga(ctx context.Context, s *d.Saga) error {
	now := r.now().UTC()
	if s.State == "" {
		s.State = d.StateInit
	}
	if len(s.Snapshot) == 0 {
		s.Snapshot = json.RawMessage("{}")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sagas (id, reservation_id, cart_id, user_id, email, state, amount, currency, snapshot,
			expires_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		s.ID, nullString(s.ReservationID), s.CartID, s.UserID, s.Email, string(s.State),
		s.Amount.String(), s.Currency, string(s.Snapshot), formatTime(s.ExpiresAt),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert saga %s: %w", s.ID, err)
	}
	if err := insertLog(ctx, tx, s.ID, "", s.State, "created", now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit saga %s: %w", s.ID, err)
	}

	s.Version = 0
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (r *Repository) GetSaga(ctx context.Context, id string) (*d.Saga, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE id = ?`, id)
	return scanSaga(row)
}

func (r *Repository) GetSagaByReservationID(ctx context.Context, reservationID string) (*d.Saga, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM sagas WHERE reservation_id = ?`, reservationID)
	return scanSaga(row)
}

// GetActiveSagaByCartID returns the newest non-terminal saga of the cart.
func (r *Repository) GetActiveSagaByCartID(ctx context.Context, cartID string) (*d.Saga, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sagaColumns+` FROM sagas
		WHERE cart_id = ? AND state NOT IN `+terminalStates+`
		ORDER BY created_at DESC
		LIMIT 1`, cartID)
	return scanSaga(row)
}

func (r *Repository) Transition(ctx context.Context, s *d.Saga, next d.State, eff Effects) error {
	if !d.CanTransitionTo(s.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.State, next)
	}
	now := r.now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sagas SET
			reservation_id = ?, state = ?, payment_order_id = ?, approve_url = ?,
			capture_id = ?, capture_status = ?, order_id = ?, failure_kind = ?,
			failure_details = ?, payment_captured = ?, expires_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		nullString(s.ReservationID), string(next), s.PaymentOrderID, s.ApproveURL,
		s.CaptureID, s.CaptureStatus, s.OrderID, string(s.FailureKind),
		s.FailureDetails, s.PaymentCaptured, formatTime(s.ExpiresAt),
		formatTime(now), s.ID, s.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update saga %s: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update saga %s: %w", s.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: saga %s at version %d", ErrVersionConflict, s.ID, s.Version)
	}

	if err := insertLog(ctx, tx, s.ID, s.State, next, eff.Note, now); err != nil {
		return err
	}
	for _, e := range eff.Events {
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
			VALUES (?, ?, ?, ?)`,
			e.ReservationID, e.Type, string(payload), formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
	}
	if rec := eff.Reconciliation; rec != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reconciliation_queue
				(saga_id, reservation_id, payment_order_id, capture_id, amount, currency, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (saga_id) DO NOTHING`,
			s.ID, rec.ReservationID, rec.PaymentOrderID, rec.CaptureID, rec.Amount, rec.Currency,
			rec.Reason, formatTime(now))
		if err != nil {
			return fmt.Errorf("failed to queue reconciliation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition of saga %s: %w", s.ID, err)
	}

	s.State = next
	s.Version++
	s.UpdatedAt = now
	return nil
}

// GetStuckSagas returns non-terminal sagas untouched since olderThan, oldest
// first.
func (r *Repository) GetStuckSagas(ctx context.Context, olderThan time.Time, limit int) ([]*d.Saga, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sagaColumns+` FROM sagas
		WHERE state NOT IN `+terminalStates+` AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?`, formatTime(olderThan.UTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck sagas: %w", err)
	}
	defer rows.Close()

	var out []*d.Saga
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) GetSagaLog(ctx context.Context, sagaID string) ([]LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT saga_id, from_state, to_state, note, created_at
		FROM saga_log WHERE saga_id = ? ORDER BY id`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query saga log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e        LogEntry
			from, to string
			created  string
		)
		if err := rows.Scan(&e.SagaID, &from, &to, &e.Note, &created); err != nil {
			return nil, fmt.Errorf("failed to scan saga log: %w", err)
		}
		e.From, e.To = d.State(from), d.State(to)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) GetPendingReconciliations(ctx context.Context) ([]Reconciliation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, saga_id, reservation_id, payment_order_id, capture_id, amount, currency, reason, created_at
		FROM reconciliation_queue WHERE resolved_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation queue: %w", err)
	}
	defer rows.Close()

	var out []Reconciliation
	for rows.Next() {
		var (
			rec     Reconciliation
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.SagaID, &rec.ReservationID, &rec.PaymentOrderID, &rec.CaptureID,
			&rec.Amount, &rec.Currency, &rec.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
		}
		if rec.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []*OutboxEvent
	for rows.Next() {
		var (
			e       OutboxEvent
			payload string
			created string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = ? WHERE id = ?`,
		formatTime(r.now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %d as processed: %w", id, err)
	}
	return nil
}

func insertLog(ctx context.Context, tx *sql.Tx, sagaID string, from, to d.State, note string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO saga_log (saga_id, from_state, to_state, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sagaID, string(from), string(to), note, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to append saga log: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*d.Saga, error) {
	var (
		s                    d.Saga
		state, kind          string
		amount, snapshot     string
		expires, created, up string
	)
	err := row.Scan(&s.ID, &s.ReservationID, &s.CartID, &s.UserID, &s.Email, &state, &amount, &s.Currency,
		&snapshot, &s.PaymentOrderID, &s.ApproveURL, &s.CaptureID, &s.CaptureStatus, &s.OrderID,
		&kind, &s.FailureDetails, &s.PaymentCaptured, &expires, &s.Version, &created, &up)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan saga: %w", err)
	}

	s.State = d.State(state)
	s.FailureKind = d.Kind(kind)
	s.Snapshot = json.RawMessage(snapshot)
	if s.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("saga %s has a bad amount %q: %w", s.ID, amount, err)
	}
	if s.ExpiresAt, err = parseTime(expires); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(up); err != nil {
		return nil, err
	}
	return &s, nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
