package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/fjod/go_cart_saga/pkg/remote"
	"github.com/fjod/go_cart_saga/pkg/signing"
)

// forward calls svc and writes its JSON answer with okStatus. A nil in sends
// no body.
func forward(w http.ResponseWriter, r *http.Request, svc remote.Service, method, path string, in any, okStatus int) {
	var out json.RawMessage
	if err := svc.Call(r.Context(), method, path, in, &out); err != nil {
		respondRemoteErr(w, r, err)
		return
	}
	writeRaw(w, okStatus, out)
}

func writeRaw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(body) > 0 {
		_, _ = w.Write(body)
	}
}

// readBody decodes the caller's JSON body without interpreting it.
func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var body json.RawMessage
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return nil, false
	}
	return body, true
}

// respondRemoteErr passes typed error bodies through unchanged. A rejected
// signature is the gateway's own misconfiguration and is not shown to the
// caller as an auth failure.
func respondRemoteErr(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	var re *remote.Error
	switch {
	case errors.Is(err, signing.ErrUnauthorized):
		logger.Error().Err(err).Msg("internal call rejected, check SIGNING_SECRET")
		httpx.RespondError(w, http.StatusBadGateway, "bad_gateway", nil)
	case errors.As(err, &re):
		if re.Status >= http.StatusInternalServerError {
			logger.Warn().Err(err).Msg("downstream error")
		}
		var details any
		if len(re.Details) > 0 {
			details = re.Details
		}
		httpx.RespondError(w, re.Status, re.Code, details)
	case errors.Is(err, remote.ErrUnavailable):
		logger.Warn().Err(err).Msg("downstream unavailable")
		httpx.RespondError(w, http.StatusServiceUnavailable, "service_unavailable", nil)
	default:
		logger.Error().Err(err).Msg("gateway call failed")
		httpx.RespondError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}
