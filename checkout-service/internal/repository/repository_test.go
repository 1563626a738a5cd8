package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/pkg/events"
)

func setupTestDB(t *testing.T) *Repository {
	creds := &Credentials{
		Path:              filepath.Join(t.TempDir(), "checkout.db"),
		MigrationsDirPath: "./migrations",
	}
	repo, err := NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newSaga(t *testing.T, repo *Repository, cartID string) *d.Saga {
	s := &d.Saga{
		ID:       uuid.NewString(),
		CartID:   cartID,
		UserID:   "user-1",
		Email:    "a@example.com",
		Amount:   decimal.RequireFromString("42.50"),
		Currency: "USD",
		Snapshot: json.RawMessage(`{"id":"` + cartID + `"}`),
	}
	require.NoError(t, repo.CreateSaga(context.Background(), s))
	return s
}

func TestCreateAndGetSaga(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	s := newSaga(t, repo, "cart-1")

	got, err := repo.GetSaga(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateInit, got.State)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "", got.ReservationID)
	assert.JSONEq(t, `{"id":"cart-1"}`, string(got.Snapshot))
	assert.Equal(t, int64(0), got.Version)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetSaga_NotFound(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	_, err := repo.GetSaga(ctx, "missing")
	assert.ErrorIs(t, err, ErrSagaNotFound)
	_, err = repo.GetSagaByReservationID(ctx, "missing")
	assert.ErrorIs(t, err, ErrSagaNotFound)
	_, err = repo.GetActiveSagaByCartID(ctx, "missing")
	assert.ErrorIs(t, err, ErrSagaNotFound)
}

func TestTransition_PersistsFieldsAndLog(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	s := newSaga(t, repo, "cart-1")

	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Microsecond)
	s.ReservationID = "res-1"
	s.ExpiresAt = expires
	require.NoError(t, repo.Transition(ctx, s, d.StateReserved, Effects{Note: "reserved"}))
	assert.Equal(t, d.StateReserved, s.State)
	assert.Equal(t, int64(1), s.Version)

	s.PaymentOrderID = "pp-1"
	s.ApproveURL = "https://paypal/approve"
	require.NoError(t, repo.Transition(ctx, s, d.StatePaymentCreated, Effects{}))

	got, err := repo.GetSagaByReservationID(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, d.StatePaymentCreated, got.State)
	assert.Equal(t, "pp-1", got.PaymentOrderID)
	assert.True(t, expires.Equal(got.ExpiresAt))
	assert.Equal(t, int64(2), got.Version)

	entries, err := repo.GetSagaLog(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, d.State(""), entries[0].From)
	assert.Equal(t, d.StateInit, entries[0].To)
	assert.Equal(t, d.StateReserved, entries[1].To)
	assert.Equal(t, "reserved", entries[1].Note)
	assert.Equal(t, d.StateReserved, entries[2].From)
	assert.Equal(t, d.StatePaymentCreated, entries[2].To)
}

func TestTransition_RejectsIllegalEdge(t *testing.T) {
	repo := setupTestDB(t)
	s := newSaga(t, repo, "cart-1")

	err := repo.Transition(context.Background(), s, d.StateCaptured, Effects{})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, d.StateInit, s.State)
}

func TestTransition_VersionConflict(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	s := newSaga(t, repo, "cart-1")

	stale, err := repo.GetSaga(ctx, s.ID)
	require.NoError(t, err)

	s.ReservationID = "res-1"
	require.NoError(t, repo.Transition(ctx, s, d.StateReserved, Effects{}))

	stale.FailureKind = d.KindReservationFailed
	err = repo.Transition(ctx, stale, d.StateFailed, Effects{})
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := repo.GetSaga(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, d.StateReserved, got.State)
}

func TestTransition_ConcurrentWritersOneWins(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	s := newSaga(t, repo, "cart-1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine, err := repo.GetSaga(ctx, s.ID)
			if !assert.NoError(t, err) {
				return
			}
			mine.ReservationID = "res-1"
			if repo.Transition(ctx, mine, d.StateReserved, Effects{}) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	entries, err := repo.GetSagaLog(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTransition_WritesOutboxAndReconciliation(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	s := newSaga(t, repo, "cart-1")
	s.ReservationID = "res-1"
	require.NoError(t, repo.Transition(ctx, s, d.StateReserved, Effects{}))
	require.NoError(t, repo.Transition(ctx, s, d.StatePaymentCreated, Effects{}))
	s.CaptureID = "cap-1"
	s.PaymentCaptured = true
	require.NoError(t, repo.Transition(ctx, s, d.StateCaptured, Effects{}))
	require.NoError(t, repo.Transition(ctx, s, d.StateCompensating, Effects{}))

	s.FailureKind = d.KindPostCaptureFailure
	rec := &Reconciliation{ReservationID: "res-1", PaymentOrderID: "pp-1", CaptureID: "cap-1",
		Amount: "42.50", Currency: "USD", Reason: "out_of_stock"}
	require.NoError(t, repo.Transition(ctx, s, d.StateFailed, Effects{
		Events: []events.Checkout{{
			Type:          events.TypeReconciliationRequired,
			ReservationID: "res-1",
			CaptureID:     "cap-1",
		}},
		Reconciliation: rec,
	}))

	pending, err := repo.GetPendingReconciliations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, s.ID, pending[0].SagaID)
	assert.Equal(t, "cap-1", pending[0].CaptureID)

	outbox, err := repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, "res-1", outbox[0].AggregateID)
	assert.Equal(t, events.TypeReconciliationRequired, outbox[0].EventType)

	var e events.Checkout
	require.NoError(t, json.Unmarshal(outbox[0].Payload, &e))
	assert.Equal(t, "cap-1", e.CaptureID)
	assert.False(t, e.OccurredAt.IsZero())

	require.NoError(t, repo.MarkEventAsProcessed(ctx, outbox[0].ID))
	outbox, err = repo.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, outbox)

	got, err := repo.GetSaga(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.PaymentCaptured)
	assert.Equal(t, d.KindPostCaptureFailure, got.FailureKind)
}

func TestGetActiveSagaByCartID_SkipsTerminal(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	old := newSaga(t, repo, "cart-1")
	old.FailureKind = d.KindReservationFailed
	require.NoError(t, repo.Transition(ctx, old, d.StateFailed, Effects{}))

	_, err := repo.GetActiveSagaByCartID(ctx, "cart-1")
	assert.ErrorIs(t, err, ErrSagaNotFound)

	current := newSaga(t, repo, "cart-1")
	got, err := repo.GetActiveSagaByCartID(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, current.ID, got.ID)
}

func TestGetStuckSagas(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Now()
	repo.now = func() time.Time { return base.Add(-time.Hour) }
	stuck := newSaga(t, repo, "cart-1")
	done := newSaga(t, repo, "cart-2")
	done.FailureKind = d.KindReservationFailed
	require.NoError(t, repo.Transition(ctx, done, d.StateFailed, Effects{}))

	repo.now = func() time.Time { return base }
	newSaga(t, repo, "cart-3")

	got, err := repo.GetStuckSagas(ctx, base.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stuck.ID, got[0].ID)
}
