// Package metrics holds the Prometheus collectors the services export on
// /metrics. All recorders are safe to call on a nil receiver.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gocart"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Middleware records one sample per request, labelled with the chi route
// pattern so path parameters do not explode cardinality.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

type RemoteMetrics struct {
	Calls     *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewRemoteMetrics(reg prometheus.Registerer, service string) *RemoteMetrics {
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "remote_calls_total",
		Help:      "Outbound internal calls by remote and outcome.",
	}, []string{"remote", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "remote_call_duration_ms",
		Help:      "Outbound internal call latency in milliseconds.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"remote"})

	reg.MustRegister(calls, latency)
	return &RemoteMetrics{Calls: calls, LatencyMS: latency}
}

func (m *RemoteMetrics) Observe(remote, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(remote, outcome).Inc()
	m.LatencyMS.WithLabelValues(remote).Observe(float64(d.Milliseconds()))
}

type SagaMetrics struct {
	Transitions   *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
	TokenRefresh  *prometheus.CounterVec
	Reconcile     prometheus.Counter
	CommitRetries prometheus.Counter
}

func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	m := &SagaMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "saga_transitions_total",
			Help:      "Saga state transitions.",
		}, []string{"from", "to"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "saga_outcomes_total",
			Help:      "Terminal saga results by failure kind (empty for success).",
		}, []string{"state", "kind"}),
		TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "payment_token_refresh_total",
			Help:      "Payment processor token exchanges.",
		}, []string{"result"}),
		Reconcile: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "reconciliation_queued_total",
			Help:      "Captured payments queued for manual reconciliation.",
		}),
		CommitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "inventory_commit_retries_total",
			Help:      "Retried inventory commit attempts after capture.",
		}),
	}
	reg.MustRegister(m.Transitions, m.Outcomes, m.TokenRefresh, m.Reconcile, m.CommitRetries)
	return m
}

func (m *SagaMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *SagaMetrics) Outcome(state, kind string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(state, kind).Inc()
}

func (m *SagaMetrics) TokenRefreshed(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.TokenRefresh.WithLabelValues(result).Inc()
}

func (m *SagaMetrics) ReconciliationQueued() {
	if m == nil {
		return
	}
	m.Reconcile.Inc()
}

func (m *SagaMetrics) CommitRetried() {
	if m == nil {
		return
	}
	m.CommitRetries.Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
