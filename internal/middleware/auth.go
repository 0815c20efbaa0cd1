// Package middleware provides HTTP middleware handlers: shared-secret auth,
// request identity and rate limiting.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/mofekayode/videosift-backend/internal/ratelimit"
)

// RequestUser is the identity attached to each authenticated request. It is
// populated from trusted headers set by the gateway in front of this service.
type RequestUser struct {
	ID       string
	Email    string
	IsAPIKey bool
	Premium  bool
	ClientIP string
}

type contextKey string

// userContextKey carries the RequestUser through the request context.
const userContextKey contextKey = "request_user"

// UserFrom extracts the request identity from a context. The zero value
// stands for an anonymous caller.
func UserFrom(ctx context.Context) RequestUser {
	if u, ok := ctx.Value(userContextKey).(RequestUser); ok {
		return u
	}
	return RequestUser{}
}

// APIKeyAuth rejects requests whose X-API-KEY header does not match the
// shared secret, and attaches the caller identity from the X-User-* headers.
func APIKeyAuth(secret string) func(http.Handler) http.Handler {
	secretBytes := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := []byte(r.Header.Get("X-API-KEY"))
			if len(provided) == 0 || subtle.ConstantTimeCompare(provided, secretBytes) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}

			user := RequestUser{
				ID:       r.Header.Get("X-User-Id"),
				Email:    r.Header.Get("X-User-Email"),
				IsAPIKey: true,
				Premium:  r.Header.Get("X-User-Premium") == "true",
				ClientIP: ratelimit.ClientIP(r),
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeJSONError renders the standard error body.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
