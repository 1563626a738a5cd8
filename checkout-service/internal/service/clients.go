package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	d "github.com/fjod/go_cart_saga/checkout-service/domain"
	"github.com/fjod/go_cart_saga/checkout-service/internal/payment"
	"github.com/fjod/go_cart_saga/pkg/remote"
)

type CartClient interface {
	GetCart(ctx context.Context, cartID string) (*d.CartSnapshot, error)
	SetSagaPointers(ctx context.Context, cartID, reservationID, paymentOrderID string) error
	ClearSagaPointers(ctx context.Context, cartID, reservationID string) error
}

type ReserveItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type ReserveRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	CartID         string          `json:"cart_id"`
	Items          []ReserveItem   `json:"items"`
	Address        json.RawMessage `json:"address"`
}

type Reservation struct {
	ReservationID string    `json:"reservation_id"`
	Status        string    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type InventoryClient interface {
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

type OrderItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderPayment struct {
	Provider       string `json:"provider"`
	PaymentOrderID string `json:"payment_order_id"`
	CaptureID      string `json:"capture_id"`
	Status         string `json:"status"`
}

type CreateOrderRequest struct {
	ReservationID string          `json:"reservation_id"`
	UserID        string          `json:"user_id"`
	Email         string          `json:"email"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Items         []OrderItem     `json:"items"`
	Address       json.RawMessage `json:"address,omitempty"`
	Shipping      json.RawMessage `json:"shipping,omitempty"`
	Payment       OrderPayment    `json:"payment"`
}

type OrdersClient interface {
	// CreateOrder returns the id of the order for the reservation, whether it
	// was created now or before.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, reservationID, value, currency, returnURL, cancelURL string) (payment.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (payment.Capture, error)
	GetCapture(ctx context.Context, orderID string) (payment.Capture, error)
}

type RemoteCart struct {
	svc remote.Service
}

func NewRemoteCart(svc remote.Service) *RemoteCart {
	return &RemoteCart{svc: svc}
}

func cartPath(cartID string) string {
	return "/internal/carts/" + url.PathEscape(cartID)
}

func (c *RemoteCart) GetCart(ctx context.Context, cartID string) (*d.CartSnapshot, error) {
	var cart d.CartSnapshot
	if err := c.svc.Call(ctx, http.MethodGet, cartPath(cartID)+"/", nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (c *RemoteCart) SetSagaPointers(ctx context.Context, cartID, reservationID, paymentOrderID string) error {
	body := map[string]string{"reservation_id": reservationID, "payment_order_id": paymentOrderID}
	return c.svc.Call(ctx, http.MethodPut, cartPath(cartID)+"/saga", body, nil)
}

func (c *RemoteCart) ClearSagaPointers(ctx context.Context, cartID, reservationID string) error {
	path := cartPath(cartID) + "/saga?reservation_id=" + url.QueryEscape(reservationID)
	return c.svc.Call(ctx, http.MethodDelete, path, nil, nil)
}

type RemoteInventory struct {
	svc remote.Service
}

func NewRemoteInventory(svc remote.Service) *RemoteInventory {
	return &RemoteInventory{svc: svc}
}

func (c *RemoteInventory) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	var res Reservation
	if err := c.svc.Call(ctx, http.MethodPost, "/internal/reservations", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *RemoteInventory) Commit(ctx context.Context, reservationID string) error {
	return c.svc.Call(ctx, http.MethodPost, "/internal/reservations/"+url.PathEscape(reservationID)+"/commit", nil, nil)
}

func (c *RemoteInventory) Release(ctx context.Context, reservationID string) error {
	return c.svc.Call(ctx, http.MethodPost, "/internal/reservations/"+url.PathEscape(reservationID)+"/release", nil, nil)
}

type RemoteOrders struct {
	svc remote.Service
}

func NewRemoteOrders(svc remote.Service) *RemoteOrders {
	return &RemoteOrders{svc: svc}
}

func (c *RemoteOrders) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	var out struct {
		Order struct {
			ID string `json:"id"`
		} `json:"order"`
	}
	if err := c.svc.Call(ctx, http.MethodPost, "/internal/orders", req, &out); err != nil {
		return "", err
	}
	return out.Order.ID, nil
}
