package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/screentask/screentask/internal/request"
	"github.com/screentask/screentask/internal/services/auth"
)

// Auth validates bearer tokens and places the caller's user ID in the
// request context. Handlers read it back with request.UserID.
func Auth(verifier *auth.Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			ctx := r.Context()
			claims, err := verifier.Verify(ctx, parts[1])
			if err != nil {
				logger.Warn("token_verification_failed",
					zap.Error(err),
					zap.String("remote_addr", request.ClientIP(r)),
				)
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx = request.WithUserID(ctx, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"success": false,
		"error":   message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}
