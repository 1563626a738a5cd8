package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/checkout-service/internal/payment"
	r "github.com/fjod/go_cart_saga/checkout-service/internal/repository"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

// MockCart implements CartClient for testing
type MockCart struct {
	mu       sync.Mutex
	Cart     *d.CartSnapshot
	Err      error
	Pointers map[string]string // reservation id -> payment order id
	Cleared  []string
}

func (m *MockCart) GetCart(_ context.Context, _ string) (*d.CartSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	c := *m.Cart
	return &c, nil
}

func (m *MockCart) SetSagaPointers(_ context.Context, _ string, reservationID, paymentOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Pointers == nil {
		m.Pointers = map[string]string{}
	}
	m.Pointers[reservationID] = paymentOrderID
	return nil
}

func (m *MockCart) ClearSagaPointers(_ context.Context, _ string, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Pointers, reservationID)
	m.Cleared = append(m.Cleared, reservationID)
	return nil
}

// MockInventory implements InventoryClient for testing. CommitErrs are
// returned one per call before commits start succeeding.
type MockInventory struct {
	mu           sync.Mutex
	ReserveErr   error
	CommitErrs   []error
	ReleaseErr   error
	TTL          time.Duration
	byKey        map[string]string
	ReserveCalls int
	Committed    map[string]int
	Released     map[string]int
	CommitCalls  int
}

func (m *MockInventory) Reserve(_ context.Context, req ReserveRequest) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReserveCalls++
	if m.ReserveErr != nil {
		return nil, m.ReserveErr
	}
	if m.byKey == nil {
		m.byKey = map[string]string{}
	}
	id, ok := m.byKey[req.IdempotencyKey]
	if !ok {
		id = "res-" + uuid.NewString()
		m.byKey[req.IdempotencyKey] = id
	}
	ttl := m.TTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &Reservation{ReservationID: id, Status: "reserved", ExpiresAt: time.Now().Add(ttl)}, nil
}

func (m *MockInventory) Commit(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls++
	if len(m.CommitErrs) > 0 {
		err := m.CommitErrs[0]
		m.CommitErrs = m.CommitErrs[1:]
		return err
	}
	if m.Committed == nil {
		m.Committed = map[string]int{}
	}
	m.Committed[reservationID]++
	return nil
}

func (m *MockInventory) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReleaseErr != nil {
		return m.ReleaseErr
	}
	if m.Released == nil {
		m.Released = map[string]int{}
	}
	m.Released[reservationID]++
	return nil
}

func (m *MockInventory) commits(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Committed[id]
}

func (m *MockInventory) releases(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Released[id]
}

// MockOrders implements OrdersClient for testing; orders are unique by
// reservation id like the real store.
type MockOrders struct {
	mu            sync.Mutex
	Errs          []error
	byReservation map[string]string
	Calls         int
	LastRequest   CreateOrderRequest
}

func (m *MockOrders) CreateOrder(_ context.Context, req CreateOrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		return "", err
	}
	if m.byReservation == nil {
		m.byReservation = map[string]string{}
	}
	m.LastRequest = req
	id, ok := m.byReservation[req.ReservationID]
	if !ok {
		id = uuid.NewString()
		m.byReservation[req.ReservationID] = id
	}
	return id, nil
}

func (m *MockOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byReservation)
}

// MockPayment implements PaymentGateway for testing
type MockPayment struct {
	mu           sync.Mutex
	CreateErr    error
	CaptureErr   error
	captured     map[string]string
	CreateCalls  int
	CaptureCalls int
	LastValue    string
	LastCurrency string
	LastReturn   string
}

func (m *MockPayment) CreateOrder(_ context.Context, reservationID, value, currency, returnURL, _ string) (payment.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	m.LastValue, m.LastCurrency, m.LastReturn = value, currency, returnURL
	if m.CreateErr != nil {
		return payment.Order{}, m.CreateErr
	}
	id := "pp-" + reservationID
	return payment.Order{ID: id, Status: "CREATED", ApproveURL: "https://paypal.test/approve/" + id}, nil
}

func (m *MockPayment) CaptureOrder(_ context.Context, orderID string) (payment.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls++
	if m.CaptureErr != nil {
		return payment.Capture{}, m.CaptureErr
	}
	if m.captured == nil {
		m.captured = map[string]string{}
	}
	if _, ok := m.captured[orderID]; ok {
		return payment.Capture{}, &payment.Error{Code: payment.CodeCaptureFailed, Status: 422, Issue: "ORDER_ALREADY_CAPTURED"}
	}
	m.captured[orderID] = "cap-" + orderID
	return payment.Capture{ID: m.captured[orderID], Status: "COMPLETED"}, nil
}

func (m *MockPayment) GetCapture(_ context.Context, orderID string) (payment.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.captured[orderID]; ok {
		return payment.Capture{ID: id, Status: "COMPLETED"}, nil
	}
	return payment.Capture{}, &payment.Error{Code: payment.CodeCaptureFailed, Err: errors.New("response has no capture")}
}

func (m *MockPayment) captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captured)
}

func unavailable(what string) error {
	return fmt.Errorf("%w: %s timed out", remote.ErrUnavailable, what)
}

func rejected(remoteName string, status int, code string) error {
	return &remote.Error{Remote: remoteName, Status: status, Code: code}
}

func testCart() *d.CartSnapshot {
	return &d.CartSnapshot{
		ID: "cart-1",
		Items: []d.CartSnapshotItem{
			{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00"), Title: "Mug"},
			{ProductID: "p2", VariantID: "blue", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00"), Title: "Cap"},
		},
		Address: json.RawMessage(`{"name":"Ann","line1":"1 Main St","city":"Springfield","postal_code":"12345","country":"US"}`),
		Summary: d.CartSummary{
			Subtotal: decimal.RequireFromString("50.00"),
			Total:    decimal.RequireFromString("50.00"),
		},
	}
}

type harness struct {
	svc       *CheckoutServiceImpl
	repo      *r.Repository
	cart      *MockCart
	inventory *MockInventory
	orders    *MockOrders
	payment   *MockPayment
}

func newHarness(t *testing.T) *harness {
	creds := &r.Credentials{
		Path:              filepath.Join(t.TempDir(), "checkout.db"),
		MigrationsDirPath: "../repository/migrations",
	}
	repo, err := r.NewRepository(creds)
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations(creds))
	t.Cleanup(func() { _ = repo.Close() })

	h := &harness{
		repo:      repo,
		cart:      &MockCart{Cart: testCart()},
		inventory: &MockInventory{},
		orders:    &MockOrders{},
		payment:   &MockPayment{},
	}
	h.svc = NewCheckoutService(repo, h.cart, h.inventory, h.orders, h.payment, Options{
		Currency:             "USD",
		ReturnURL:            "https://shop.test/return",
		RetryInitialInterval: time.Millisecond,
		RetryMaxTries:        4,
		RetryMaxElapsed:      time.Second,
	})
	return h
}

// start runs a successful Start for cart-1.
func (h *harness) start(t *testing.T) *d.StartResult {
	res, err := h.svc.Start(context.Background(), d.StartRequest{CartID: "cart-1", UserID: "user-1", Email: "ann@example.com"})
	require.NoError(t, err)
	return res
}

// expire moves the orchestrator's clock past every reservation.
func (h *harness) expire() {
	h.svc.now = func() time.Time { return time.Now().Add(time.Hour) }
}

func (h *harness) saga(t *testing.T, reservationID string) *d.Saga {
	saga, err := h.repo.GetSagaByReservationID(context.Background(), reservationID)
	require.NoError(t, err)
	return saga
}
