// Package remote is the single way services call each other. A Service is
// either an HTTP client or an in-process dispatcher; callers cannot tell
// which one they hold. Both sign every request.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fjod/go_cart_saga/pkg/config"
	"github.com/fjod/go_cart_saga/pkg/metrics"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

type Service interface {
	// Call sends in as the JSON body (nil for none) and decodes a 2xx answer
	// into out (nil to discard). Non-2xx answers come back as *Error.
	Call(ctx context.Context, method, path string, in, out any) error
}

// ErrUnavailable wraps network failures, timeouts and open breakers. The
// remote may or may not have applied the request.
var ErrUnavailable = errors.New("remote unavailable")

// Error is a typed error body returned by a remote.
type Error struct {
	Remote  string
	Status  int
	Code    string
	Details json.RawMessage
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %d %s: %s", e.Remote, e.Status, e.Code, string(e.Details))
	}
	return fmt.Sprintf("%s: %d %s", e.Remote, e.Status, e.Code)
}

// Unwrap lets errors.Is(err, signing.ErrUnauthorized) match a 401.
func (e *Error) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return signing.ErrUnauthorized
	}
	return nil
}

// DetailString returns Details decoded as a JSON string, or the raw JSON.
func (e *Error) DetailString() string {
	var s string
	if err := json.Unmarshal(e.Details, &s); err == nil {
		return s
	}
	return string(e.Details)
}

// IsCode reports whether err is a remote error with the given code.
func IsCode(err error, code string) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == code
}

// IsClientError reports a 4xx business answer; these are definitive and do
// not count against a circuit breaker.
func IsClientError(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Status >= 400 && re.Status < 500
}

type errorBody struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func decodeResponse(remote string, status int, body []byte, out any) error {
	if status < 200 || status > 299 {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err != nil || eb.Error == "" {
			eb.Error = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
			eb.Details = nil
		}
		if status >= 500 {
			return errors.Join(ErrUnavailable, &Error{Remote: remote, Status: status, Code: eb.Error, Details: eb.Details})
		}
		return &Error{Remote: remote, Status: status, Code: eb.Error, Details: eb.Details}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", remote, err)
	}
	return nil
}

func encodeBody(in any) ([]byte, error) {
	if in == nil {
		return nil, nil
	}
	if raw, ok := in.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(in)
}

// splitPath separates the signed path from an optional query string.
func splitPath(p string) (string, string) {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

// New builds the Service for one named remote from configuration. handler is
// only used in local mode.
func New(name string, cfg config.RemoteConfig, signer *signing.Signer, handler http.Handler, m *metrics.RemoteMetrics) (Service, error) {
	switch cfg.Mode {
	case config.RemoteLocal:
		if handler == nil {
			return nil, fmt.Errorf("remote %q: local mode needs an in-process handler", name)
		}
		return NewLocal(name, handler, signer, cfg.Timeout, m), nil
	case config.RemoteHTTP, "":
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote %q: url is required in http mode", name)
		}
		return NewHTTP(name, cfg.URL, signer, cfg.Timeout, m), nil
	default:
		return nil, fmt.Errorf("remote %q: unknown mode %q", name, cfg.Mode)
	}
}
