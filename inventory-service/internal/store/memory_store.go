package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/rs/zerolog/log"

	"github.com/fjod/go_cart_saga/inventory-service/internal/domain"
)

const (
	DefaultReservationTTL = 10 * time.Minute

	CleanupInterval = 30 * time.Second
)

// MemoryStore keeps stock and reservations in process memory behind one lock.
type MemoryStore struct {
	mu           sync.RWMutex
	stocks       map[string]*domain.StockInfo
	reservations map[string]*domain.Reservation
	byKey        map[string]string // idempotency key -> reservation id

	ttl     time.Duration
	service domain.Serviceability
	now     func() time.Time

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

func NewMemoryStore(ttl time.Duration, service domain.Serviceability) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	s := &MemoryStore{
		stocks:       make(map[string]*domain.StockInfo),
		reservations: make(map[string]*domain.Reservation),
		byKey:        make(map[string]string),
		ttl:          ttl,
		service:      service,
		now:          time.Now,
		stopCleanup:  make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.expireReservations(); n > 0 {
				log.Info().Int("count", n).Msg("expired reservations released")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) expireReservations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, r := range s.reservations {
		if r.Status == domain.StatusReserved && r.IsExpiredAt(now) {
			s.expireLocked(r)
			n++
		}
	}
	return n
}

// expireLocked releases the held stock of r and marks it expired.
func (s *MemoryStore) expireLocked(r *domain.Reservation) {
	for _, item := range r.Items {
		s.stocks[s.skuLocked(item)].Reserved -= item.Quantity
	}
	r.Status = domain.StatusExpired
}

// skuLocked resolves the stock entry for item: the variant SKU when stocked,
// the product otherwise.
func (s *MemoryStore) skuLocked(item domain.ReservationItem) string {
	if _, ok := s.stocks[item.SKU()]; ok {
		return item.SKU()
	}
	return item.ProductID
}

func (s *MemoryStore) GetStock(skus []string) ([]domain.StockInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockInfo, 0, len(skus))
	for _, sku := range skus {
		if stock, ok := s.stocks[sku]; ok {
			result = append(result, *stock)
		}
	}
	return result, nil
}

func (s *MemoryStore) Reserve(req ReserveRequest) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := s.byKey[req.IdempotencyKey]; ok {
			r := *s.reservations[id]
			return &r, nil
		}
	}

	if len(req.Items) == 0 {
		return nil, ErrEmptyReservation
	}
	if !s.service.Serves(req.Address) {
		return nil, ErrAddressUnservable
	}

	// First pass: every line must fit, counting repeated SKUs together.
	want := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		sku := s.skuLocked(item)
		if _, ok := s.stocks[sku]; !ok {
			return nil, ErrProductNotFound
		}
		want[sku] += item.Quantity
	}
	for sku, qty := range want {
		if s.stocks[sku].Available() < qty {
			return nil, ErrInsufficientStock
		}
	}

	// Second pass: hold stock.
	for sku, qty := range want {
		s.stocks[sku].Reserved += qty
	}

	now := s.now()
	r := &domain.Reservation{
		ID:             "res_" + uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		CartID:         req.CartID,
		Items:          append([]domain.ReservationItem(nil), req.Items...),
		Address:        req.Address,
		Status:         domain.StatusReserved,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	s.reservations[r.ID] = r
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = r.ID
	}

	out := *r
	return &out, nil
}

func (s *MemoryStore) GetReservation(reservationID string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) Commit(reservationID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}

	switch r.Status {
	case domain.StatusCommitted:
		out := *r
		return &out, nil
	case domain.StatusExpired:
		return nil, ErrReservationExpired
	case domain.StatusReleased:
		return nil, ErrInvalidStatus
	}

	if r.IsExpiredAt(s.now()) {
		s.expireLocked(r)
		return nil, ErrReservationExpired
	}

	for _, item := range r.Items {
		stock := s.stocks[s.skuLocked(item)]
		stock.Total -= item.Quantity
		stock.Reserved -= item.Quantity
	}
	r.Status = domain.StatusCommitted

	out := *r
	return &out, nil
}

func (s *MemoryStore) Release(reservationID string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[reservationID]
	if !ok {
		return nil, ErrReservationNotFound
	}

	switch r.Status {
	case domain.StatusReleased, domain.StatusExpired:
		out := *r
		return &out, nil
	case domain.StatusCommitted:
		return nil, ErrInvalidStatus
	}

	for _, item := range r.Items {
		s.stocks[s.skuLocked(item)].Reserved -= item.Quantity
	}
	r.Status = domain.StatusReleased

	out := *r
	return &out, nil
}

// SetStock sets the on-hand quantity and price of a SKU, keeping current holds.
func (s *MemoryStore) SetStock(sku string, quantity int, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reserved := 0
	if existing, ok := s.stocks[sku]; ok {
		reserved = existing.Reserved
	}
	s.stocks[sku] = &domain.StockInfo{SKU: sku, Total: quantity, Reserved: reserved, UnitPrice: price}
	return nil
}

func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}
