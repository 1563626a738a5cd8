package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

type ReservationItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// SKU is the stock key of the item: product id, or product/variant when a
// variant is set.
func (i ReservationItem) SKU() string {
	if i.VariantID == "" {
		return i.ProductID
	}
	return i.ProductID + "/" + i.VariantID
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Reservation is a time-bounded hold on stock for one checkout attempt. Items
// and address are snapshots taken at reserve time and never change.
type Reservation struct {
	ID             string            `json:"reservation_id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CartID         string            `json:"cart_id"`
	Items          []ReservationItem `json:"items"`
	Address        Address           `json:"address"`
	Status         ReservationStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type StockInfo struct {
	SKU       string          `json:"sku"`
	Total     int             `json:"total"`
	Reserved  int             `json:"reserved"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (s StockInfo) Available() int {
	return s.Total - s.Reserved
}

// Snapshot is the JSON view of a stock row with availability filled in.
type Snapshot struct {
	StockInfo
	Available int `json:"available"`
}

func (s StockInfo) Snapshot() Snapshot {
	return Snapshot{StockInfo: s, Available: s.Available()}
}

// Serviceability decides which destination countries can be shipped to. An
// empty set ships everywhere.
type Serviceability map[string]struct{}

func NewServiceability(countries []string) Serviceability {
	s := make(Serviceability, len(countries))
	for _, c := range countries {
		s[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	return s
}

func (s Serviceability) Serves(a Address) bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s[strings.ToUpper(strings.TrimSpace(a.Country))]
	return ok
}
