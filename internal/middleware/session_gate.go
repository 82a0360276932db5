package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/logging"
)

// Authenticator verifies an access token.
type Authenticator interface {
	Authenticate(accessToken string) (auth.Identity, error)
}

// SessionGate rejects requests without a valid access token and stores the
// caller's identity on the request context. The token is read from the
// Authorization bearer header, or from the access_token query parameter for
// websocket upgrades where browsers cannot set headers.
func SessionGate(authenticator Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, r, "missing access token")
				return
			}

			identity, err := authenticator.Authenticate(token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("access token rejected", "error", err)
				unauthorized(w, r, "invalid or expired access token")
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("userId", identity.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="starryvlog"`)
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.FromContext(r.Context()).Error("encode unauthorized response", "error", err)
	}
}
