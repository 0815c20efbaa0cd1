package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/mofekayode/videosift-backend/internal/ratelimit"
)

// RateLimit guards an endpoint with the sliding-window limiter for the given
// action. Allowed requests are recorded and annotated with the X-RateLimit-*
// headers; exhausted callers get a 429 with reset metadata.
func RateLimit(limiter *ratelimit.Limiter, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFrom(r.Context())
			identifier := ratelimit.IdentifierFor(user.ID, user.ClientIP)
			class := ratelimit.ClassFor(user.ID, user.Premium)

			result := limiter.Check(identifier, action, class)
			setRateHeaders(w, result)

			if !result.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "You have hit the " + result.Window + "ly limit for this action. Try again later.",
					"limit":   result.Limit,
					"window":  result.Window,
					"resetAt": result.ResetAt.Format(time.RFC3339),
				})
				return
			}

			limiter.Record(identifier, action)
			next.ServeHTTP(w, r)
		})
	}
}

func setRateHeaders(w http.ResponseWriter, result ratelimit.Result) {
	if result.Limit < 0 {
		return
	}
	remaining := result.Remaining
	if result.Allowed && remaining > 0 {
		// The current request consumes one slot.
		remaining--
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
