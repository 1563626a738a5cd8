// Package payment wraps the PayPal Orders v2 API: OAuth token exchange,
// order creation and capture. It never retries; retry policy belongs to the
// caller.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/metrics"
)

const (
	CodeTokenError    = "paypal_token_error"
	CodeCreateFailed  = "paypal_create_failed"
	CodeCaptureFailed = "capture_failed"

	defaultRefreshMargin = time.Minute
	defaultTimeout       = 10 * time.Second

	issueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
)

// Error is a failed processor call. Status is 0 when no response arrived.
type Error struct {
	Code   string
	Status int
	Body   string
	Issue  string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Code, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Definitive reports a 4xx answer: repeating the call will not help.
func (e *Error) Definitive() bool {
	return e.Status >= 400 && e.Status < 500
}

// AlreadyCaptured reports that PayPal refused a capture because the order was
// captured before.
func AlreadyCaptured(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Issue == issueAlreadyCaptured
}

type Order struct {
	ID         string
	Status     string
	ApproveURL string
}

type Capture struct {
	ID     string
	Status string
}

type token struct {
	value     string
	expiresAt time.Time
}

type PayPal struct {
	client       *resty.Client
	clientID     string
	clientSecret string
	margin       time.Duration
	metrics      *metrics.SagaMetrics
	now          func() time.Time

	mu    sync.RWMutex
	token token
	sfg   singleflight.Group
}

func NewPayPal(cfg config.PayPalConfig, m *metrics.SagaMetrics) *PayPal {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	margin := cfg.TokenRefreshMargin
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")

	return &PayPal{
		client:       client,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		margin:       margin,
		metrics:      m,
		now:          time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AccessToken returns the cached bearer token unless it is within the refresh
// margin of expiry. Concurrent callers share one exchange.
func (p *PayPal) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := p.cached(); ok {
		return tok, nil
	}

	v, err, _ := p.sfg.Do("token", func() (any, error) {
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		// detached so one caller giving up does not fail the others
		return p.exchange(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *PayPal) cached() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token.value == "" || !p.now().Add(p.margin).Before(p.token.expiresAt) {
		return "", false
	}
	return p.token.value, true
}

func (p *PayPal) exchange(ctx context.Context) (string, error) {
	var tr tokenResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBasicAuth(p.clientID, p.clientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tr).
		Post("/v1/oauth2/token")
	if err != nil {
		p.metrics.TokenRefreshed(false)
		return "", &Error{Code: CodeTokenError, Err: err}
	}
	if resp.IsError() || tr.AccessToken == "" {
		p.metrics.TokenRefreshed(false)
		return "", &Error{Code: CodeTokenError, Status: resp.StatusCode(), Body: string(resp.Body())}
	}

	p.mu.Lock()
	p.token = token{
		value:     tr.AccessToken,
		expiresAt: p.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	p.mu.Unlock()
	p.metrics.TokenRefreshed(true)
	log.Debug().Int64("expires_in", tr.ExpiresIn).Msg("paypal token refreshed")
	return tr.AccessToken, nil
}

// invalidate drops tok if it is still the cached one.
func (p *PayPal) invalidate(tok string) {
	p.mu.Lock()
	if p.token.value == tok {
		p.token = token{}
	}
	p.mu.Unlock()
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Amount      *amount   `json:"amount,omitempty"`
	Payments    *payments `json:"payments,omitempty"`
}

type payments struct {
	Captures []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"captures"`
}

type applicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action"`
}

type createOrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type orderResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

// CreateOrder creates a CAPTURE-intent order for the reservation. The
// reservation id is the PayPal-Request-Id, so a repeated create returns the
// same order.
func (p *PayPal) CreateOrder(ctx context.Context, reservationID, value, currency, returnURL, cancelURL string) (Order, error) {
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: reservationID,
			CustomID:    reservationID,
			Amount:      &amount{CurrencyCode: currency, Value: value},
		}},
		ApplicationContext: applicationContext{ReturnURL: returnURL, CancelURL: cancelURL, UserAction: "PAY_NOW"},
	}

	var out orderResponse
	if err := p.call(ctx, CodeCreateFailed, http.MethodPost, "/v2/checkout/orders", reservationID, body, &out); err != nil {
		return Order{}, err
	}

	order := Order{ID: out.ID, Status: out.Status}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApproveURL = l.Href
			break
		}
	}
	if order.ID == "" {
		return Order{}, &Error{Code: CodeCreateFailed, Err: errors.New("response has no order id")}
	}
	return order, nil
}

// CaptureOrder captures an approved order and returns the first capture of
// the first purchase unit.
func (p *PayPal) CaptureOrder(ctx context.Context, orderID string) (Capture, error) {
	var out orderResponse
	path := "/v2/checkout/orders/" + orderID + "/capture"
	if err := p.call(ctx, CodeCaptureFailed, http.MethodPost, path, orderID, struct{}{}, &out); err != nil {
		return Capture{}, err
	}
	return firstCapture(out)
}

// GetCapture reads back the capture of an order that was already captured.
func (p *PayPal) GetCapture(ctx context.Context, orderID string) (Capture, error) {
	var out orderResponse
	if err := p.call(ctx, CodeCaptureFailed, http.MethodGet, "/v2/checkout/orders/"+orderID, "", nil, &out); err != nil {
		return Capture{}, err
	}
	return firstCapture(out)
}

func firstCapture(out orderResponse) (Capture, error) {
	if len(out.PurchaseUnits) == 0 || out.PurchaseUnits[0].Payments == nil ||
		len(out.PurchaseUnits[0].Payments.Captures) == 0 {
		return Capture{}, &Error{Code: CodeCaptureFailed, Err: errors.New("response has no capture")}
	}
	c := out.PurchaseUnits[0].Payments.Captures[0]
	return Capture{ID: c.ID, Status: c.Status}, nil
}

func (p *PayPal) call(ctx context.Context, code, method, path, requestID string, in, out any) error {
	tok, err := p.AccessToken(ctx)
	if err != nil {
		return err
	}

	req := p.client.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetResult(out)
	if requestID != "" {
		req.SetHeader("PayPal-Request-Id", requestID)
	}
	if in != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(in)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &Error{Code: code, Err: err}
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnauthorized {
			p.invalidate(tok)
		}
		e := &Error{Code: code, Status: resp.StatusCode(), Body: string(resp.Body())}
		var er errorResponse
		if json.Unmarshal(resp.Body(), &er) == nil && len(er.Details) > 0 {
			e.Issue = er.Details[0].Issue
		}
		return e
	}
	return nil
}
