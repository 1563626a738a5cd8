package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fjod/go_cart_saga/pkg/httpx"
)

type ctxKey int

const userIDKey ctxKey = iota

// HeaderUserID carries the caller's identity until real token validation
// sits in front of the gateway.
const HeaderUserID = "X-User-ID"

// MockAuthMiddleware trusts X-User-ID and rejects requests without it.
func MockAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			httpx.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}

		logger := zerolog.Ctx(r.Context()).With().Str("user_id", userID).Logger()
		ctx := WithUserID(logger.WithContext(r.Context()), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userIDFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
