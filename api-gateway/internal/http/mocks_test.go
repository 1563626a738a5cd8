package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart_saga/pkg/httpx"
)

type call struct {
	Method string
	Path   string
	Body   json.RawMessage
}

// fakeRemote answers by "METHOD path" key and records every call.
type fakeRemote struct {
	mu        sync.Mutex
	calls     []call
	responses map[string]any
	errs      map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{responses: map[string]any{}, errs: map[string]error{}}
}

func (f *fakeRemote) on(method, path string, resp any) *fakeRemote {
	f.responses[method+" "+path] = resp
	return f
}

func (f *fakeRemote) fail(method, path string, err error) *fakeRemote {
	f.errs[method+" "+path] = err
	return f
}

func (f *fakeRemote) Call(_ context.Context, method, path string, in, out any) error {
	var body json.RawMessage
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = raw
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{Method: method, Path: path, Body: body})
	f.mu.Unlock()

	key := method + " " + path
	if err, ok := f.errs[key]; ok {
		return err
	}
	resp, ok := f.responses[key]
	if !ok || out == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeRemote) last() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type routes interface {
	Routes(r chi.Router)
}

func newRouter(h routes) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MockAuthMiddleware)
		h.Routes(r)
	})
	return r
}

func do(t *testing.T, h http.Handler, userID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorResponse {
	t.Helper()
	var body httpx.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
