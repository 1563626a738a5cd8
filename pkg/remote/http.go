package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart_saga/pkg/circuitbreaker"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

const defaultTimeout = 5 * time.Second

// HTTPService calls a remote over the network through a circuit breaker.
type HTTPService struct {
	name    string
	client  *resty.Client
	signer  *signing.Signer
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.RemoteMetrics
}

func NewHTTP(name, baseURL string, signer *signing.Signer, timeout time.Duration, m *metrics.RemoteMetrics) *HTTPService {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json")

	return &HTTPService{
		name:    name,
		client:  client,
		signer:  signer,
		timeout: timeout,
		cb:      circuitbreaker.New[struct{}](name, circuitbreaker.DefaultConfig(), IsClientError),
		metrics: m,
	}
}

func (s *HTTPService) Call(ctx context.Context, method, path string, in, out any) error {
	body, err := encodeBody(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", s.name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	_, err = s.cb.Execute(func() (struct{}, error) {
		return struct{}{}, s.do(ctx, method, path, body, out)
	})
	err = circuitbreaker.Translate(err)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = errors.Join(ErrUnavailable, err)
	}
	s.metrics.Observe(s.name, outcome(err), time.Since(start))
	return err
}

func (s *HTTPService) do(ctx context.Context, method, path string, body []byte, out any) error {
	signedPath, query := splitPath(path)
	// the callee verifies against its decoded r.URL.Path
	decoded, err := url.PathUnescape(signedPath)
	if err != nil {
		return fmt.Errorf("%s: bad path %q: %w", s.name, signedPath, err)
	}
	ts, sig := s.signer.Headers(method, decoded, body)

	req := s.client.R().
		SetContext(ctx).
		SetHeader(signing.HeaderTimestamp, ts).
		SetHeader(signing.HeaderSignature, sig).
		SetQueryString(query)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, signedPath)
	if err != nil {
		return fmt.Errorf("%w: %s %s %s: %v", ErrUnavailable, s.name, method, signedPath, err)
	}
	return decodeResponse(s.name, resp.StatusCode(), resp.Body(), out)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
