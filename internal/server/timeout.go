package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware cancels the request context after d. Handlers must watch
// ctx.Done(); nothing is interrupted forcibly. d <= 0 disables the limit.
func TimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
