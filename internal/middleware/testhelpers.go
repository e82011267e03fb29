package middleware

import (
	"context"

	"github.com/screentask/screentask/internal/request"
)

// SetUserIDInContext is a test helper that places a user ID in the context
// the same way the Auth middleware does.
func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return request.WithUserID(ctx, userID)
}
