package middleware

import (
	"context"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a request when the caller passes no limit.
const DefaultRequestTimeout = 30 * time.Second

// Timeout caps how long a handler may run. The request context is cancelled
// at the deadline so in-flight store and queue calls unwind too, and
// http.TimeoutHandler answers 503 for the client.
func Timeout(limit time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		bounded := http.TimeoutHandler(next, limit, "Request Timeout")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), limit)
			defer cancel()
			bounded.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
