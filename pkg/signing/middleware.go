package signing

import (
	"errors"
	"net/http"

	"github.com/fjod/go_cart_saga/pkg/httpx"
	"github.com/rs/zerolog"
)

// Middleware rejects requests whose signature does not verify with 401
// transport_unauthorized before any handler runs.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("rejected internal call")
			httpx.RespondError(w, http.StatusUnauthorized, ErrUnauthorized.Error(), reason(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeaders):
		return "missing signature headers"
	case errors.Is(err, ErrStaleTimestamp):
		return "stale timestamp"
	case errors.Is(err, ErrBadSignature):
		return "signature mismatch"
	default:
		return "invalid signature"
	}
}
