package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServerMetrics_UsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg, "orders")

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders/{id}", "200")))
}

func TestRemoteMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRemoteMetrics(reg, "checkout")
	m.Observe("inventory", "ok", 5*time.Millisecond)
	m.Observe("inventory", "error", 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("inventory", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues("inventory", "error")))
}

func TestNilRecordersAreNoops(t *testing.T) {
	var s *SagaMetrics
	var r *RemoteMetrics
	assert.NotPanics(t, func() {
		s.Transition("Init", "Reserved")
		s.Outcome("Failed", "reservation_failed")
		s.TokenRefreshed(true)
		s.ReconciliationQueued()
		s.CommitRetried()
		r.Observe("cart", "ok", time.Millisecond)
	})
}
