// Package sandbox is a local stand-in for the payment processor's REST API:
// client-credentials tokens, CAPTURE-intent orders, buyer approval and
// capture. It keeps everything in memory.
package sandbox

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	StatusCreated   = "CREATED"
	StatusApproved  = "APPROVED"
	StatusCompleted = "COMPLETED"

	IssueAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	IssueNotApproved     = "ORDER_NOT_APPROVED"
	IssueRefused         = "TRANSACTION_REFUSED"
)

// declineIssues are the refusals a Decider can pick from.
var declineIssues = []string{
	"INSTRUMENT_DECLINED",
	"PAYER_CANNOT_PAY",
	"PAYEE_BLOCKED_TRANSACTION",
	"MAX_NUMBER_OF_PAYMENT_ATTEMPTS_EXCEEDED",
	"PAYER_ACCOUNT_RESTRICTED",
}

// Decider decides the outcome of a capture. An empty issue approves it.
type Decider interface {
	Decide() string
}

// RandomDecider approves 95% of captures.
type RandomDecider struct{}

func (RandomDecider) Decide() string {
	return issueFor(rand.IntN(101))
}

func issueFor(n int) string {
	if n < 95 {
		return ""
	}
	other := n - 95
	if other == 0 || other > len(declineIssues) {
		return IssueRefused
	}
	return declineIssues[other-1]
}

// AlwaysApprove approves every capture.
type AlwaysApprove struct{}

func (AlwaysApprove) Decide() string { return "" }

type Config struct {
	ClientID     string
	ClientSecret string
	// PublicURL is where buyers reach the approval page.
	PublicURL string
	TokenTTL  time.Duration
}

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Amount      *Amount   `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

type Payments struct {
	Captures []Capture `json:"captures"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
	Links         []Link         `json:"links"`

	returnURL string
	cancelURL string
}

type createOrderRequest struct {
	Intent             string         `json:"intent"`
	PurchaseUnits      []PurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL string `json:"return_url"`
		CancelURL string `json:"cancel_url"`
	} `json:"application_context"`
}

type errorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description,omitempty"`
}

type errorResponse struct {
	Name    string        `json:"name"`
	Message string        `json:"message,omitempty"`
	Details []errorDetail `json:"details,omitempty"`
}

type Sandbox struct {
	cfg     Config
	decider Decider
	now     func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
	orders map[string]*Order
	// requests maps PayPal-Request-Id to the answer first given for it.
	requests map[string]replay
}

type replay struct {
	status int
	body   []byte
}

func New(cfg Config, decider Decider) *Sandbox {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 9 * time.Hour
	}
	if decider == nil {
		decider = RandomDecider{}
	}
	return &Sandbox{
		cfg:      cfg,
		decider:  decider,
		now:      time.Now,
		tokens:   make(map[string]time.Time),
		orders:   make(map[string]*Order),
		requests: make(map[string]replay),
	}
}

func (s *Sandbox) Routes(r chi.Router) {
	r.Post("/v1/oauth2/token", s.Token)
	r.Get("/checkoutnow", s.Approve)
	r.Route("/v2/checkout/orders", func(r chi.Router) {
		r.Use(s.bearer)
		r.Post("/", s.CreateOrder)
		r.Get("/{id}", s.GetOrder)
		r.Post("/{id}/capture", s.CaptureOrder)
	})
}

// Token exchanges client credentials for a bearer token.
func (s *Sandbox) Token(w http.ResponseWriter, r *http.Request) {
	id, secret, ok := r.BasicAuth()
	if !ok || id != s.cfg.ClientID || secret != s.cfg.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_client",
			"error_description": "Client Authentication failed",
		})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	token := "A21AA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.tokens[token] = s.now().Add(s.cfg.TokenTTL)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(s.cfg.TokenTTL / time.Second),
	})
}

func (s *Sandbox) bearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		expiry, known := s.tokens[token]
		s.mu.Unlock()
		if !ok || !known || !s.now().Before(expiry) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				Name:    "AUTHENTICATION_FAILURE",
				Message: "Authentication failed due to invalid authentication credentials or a missing Authorization header.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateOrder accepts one purchase unit with a CAPTURE intent. A repeated
// PayPal-Request-Id answers with the order created the first time.
func (s *Sandbox) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("PayPal-Request-Id")
	if s.replayed(w, "create:"+requestID) {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeIssue(w, http.StatusBadRequest, "INVALID_REQUEST", "MALFORMED_REQUEST_JSON")
		return
	}
	if req.Intent != "CAPTURE" {
		writeIssue(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", "INTENT_NOT_SUPPORTED")
		return
	}
	if len(req.PurchaseUnits) != 1 || req.PurchaseUnits[0].Amount == nil || req.PurchaseUnits[0].Amount.Value == "" {
		writeIssue(w, http.StatusBadRequest, "INVALID_REQUEST", "MISSING_REQUIRED_PARAMETER")
		return
	}

	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:17]
	order := &Order{
		ID:            id,
		Status:        StatusCreated,
		PurchaseUnits: []PurchaseUnit{{ReferenceID: req.PurchaseUnits[0].ReferenceID, CustomID: req.PurchaseUnits[0].CustomID, Amount: req.PurchaseUnits[0].Amount}},
		Links: []Link{
			{Href: s.cfg.PublicURL + "/v2/checkout/orders/" + id, Rel: "self", Method: http.MethodGet},
			{Href: s.cfg.PublicURL + "/checkoutnow?token=" + id, Rel: "approve", Method: http.MethodGet},
			{Href: s.cfg.PublicURL + "/v2/checkout/orders/" + id + "/capture", Rel: "capture", Method: http.MethodPost},
		},
		returnURL: req.ApplicationContext.ReturnURL,
		cancelURL: req.ApplicationContext.CancelURL,
	}

	s.mu.Lock()
	s.orders[id] = order
	body := s.respond(w, "create:"+requestID, http.StatusCreated, order)
	s.mu.Unlock()
	_, _ = w.Write(body)

	zerolog.Ctx(r.Context()).Info().
		Str("order_id", id).
		Str("reference_id", order.PurchaseUnits[0].ReferenceID).
		Str("value", order.PurchaseUnits[0].Amount.Value).
		Msg("sandbox order created")
}

// Approve plays the buyer: it approves the order and redirects to the
// merchant's return URL, or to the cancel URL with ?cancel=true.
func (s *Sandbox) Approve(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("token")
	cancel := r.URL.Query().Get("cancel") == "true"

	s.mu.Lock()
	order, ok := s.orders[id]
	var target, status string
	if ok {
		target = order.returnURL
		if cancel {
			target = order.cancelURL
		} else if order.Status == StatusCreated {
			order.Status = StatusApproved
		}
		status = order.Status
	}
	s.mu.Unlock()

	if !ok {
		writeIssue(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "INVALID_RESOURCE_ID")
		return
	}
	if target == "" {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
		return
	}
	http.Redirect(w, r, appendQuery(target, url.Values{"token": {id}, "PayerID": {"SANDBOXPAYER"}}), http.StatusFound)
}

func (s *Sandbox) GetOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	order, ok := s.orders[chi.URLParam(r, "id")]
	var body []byte
	if ok {
		body, _ = json.Marshal(order)
	}
	s.mu.Unlock()

	if !ok {
		writeIssue(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "INVALID_RESOURCE_ID")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// CaptureOrder captures an approved order at most once. Retrying with the
// same PayPal-Request-Id replays the first answer.
func (s *Sandbox) CaptureOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requestID := r.Header.Get("PayPal-Request-Id")
	if s.replayed(w, "capture:"+requestID) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	switch {
	case !ok:
		writeIssue(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "INVALID_RESOURCE_ID")
		return
	case order.Status == StatusCompleted:
		writeIssue(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", IssueAlreadyCaptured)
		return
	case order.Status != StatusApproved:
		writeIssue(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", IssueNotApproved)
		return
	}

	if issue := s.decider.Decide(); issue != "" {
		zerolog.Ctx(r.Context()).Info().Str("order_id", id).Str("issue", issue).Msg("sandbox capture declined")
		writeIssue(w, http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", issue)
		return
	}

	order.Status = StatusCompleted
	unit := &order.PurchaseUnits[0]
	unit.Payments = &Payments{Captures: []Capture{{
		ID:     strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:17],
		Status: StatusCompleted,
		Amount: *unit.Amount,
	}}}
	body := s.respond(w, "capture:"+requestID, http.StatusCreated, order)
	_, _ = w.Write(body)
}

// replayed writes the stored answer for key, if any. Keys without a request
// id are never stored.
func (s *Sandbox) replayed(w http.ResponseWriter, key string) bool {
	if strings.HasSuffix(key, ":") {
		return false
	}
	s.mu.Lock()
	prev, ok := s.requests[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(prev.status)
	_, _ = w.Write(prev.body)
	return true
}

// respond marshals v, remembers it under key and writes the header. The
// caller writes the returned body. s.mu must be held.
func (s *Sandbox) respond(w http.ResponseWriter, key string, status int, v any) []byte {
	body, _ := json.Marshal(v)
	if !strings.HasSuffix(key, ":") {
		s.requests[key] = replay{status: status, body: body}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return body
}

func appendQuery(raw string, extra url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range extra {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func writeIssue(w http.ResponseWriter, status int, name, issue string) {
	writeJSON(w, status, errorResponse{Name: name, Details: []errorDetail{{Issue: issue}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
