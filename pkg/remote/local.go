package remote

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

// LocalService dispatches calls to a handler in the same process. Requests
// are still signed so the callee's verifier runs unchanged.
type LocalService struct {
	name    string
	handler http.Handler
	signer  *signing.Signer
	timeout time.Duration
	metrics *metrics.RemoteMetrics
}

func NewLocal(name string, handler http.Handler, signer *signing.Signer, timeout time.Duration, m *metrics.RemoteMetrics) *LocalService {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LocalService{name: name, handler: handler, signer: signer, timeout: timeout, metrics: m}
}

func (s *LocalService) Call(ctx context.Context, method, path string, in, out any) error {
	body, err := encodeBody(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", s.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", s.name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	s.signer.SignRequest(req, body)

	start := time.Now()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %s %s %s: %v", ErrUnavailable, s.name, method, req.URL.Path, ctx.Err())
	} else {
		err = decodeResponse(s.name, rec.Code, rec.Body.Bytes(), out)
	}
	s.metrics.Observe(s.name, outcome(err), time.Since(start))
	return err
}
