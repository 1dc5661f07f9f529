package server

import (
	"context"
	"net/http"

	"github.com/tjfontaine/completion-gateway/internal/classify"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
)

type subjectKey struct{}

// AuthMiddleware requires a credential the verifier accepts and stores the
// verified subject in the request context. The streaming route does not use
// it; the engine authenticates streams itself after validating the body.
// A nil verifier disables the check.
func AuthMiddleware(verifier ports.IdentityVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			credential := r.Header.Get("Authorization")
			if credential == "" {
				classify.WriteError(w, domain.ErrUnauthorized("sign in to continue"), requestID)
				return
			}

			subject, err := verifier.Verify(r.Context(), credential)
			if err != nil {
				AddError(r.Context(), err)
				classify.WriteError(w, domain.ErrUnauthorized("sign in to continue"), requestID)
				return
			}
			if subject == "" {
				classify.WriteError(w, domain.ErrUnauthorized("session expired, sign in again"), requestID)
				return
			}

			AddLogField(r.Context(), "subject", subject)
			ctx := context.WithValue(r.Context(), subjectKey{}, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject returns the subject stored by AuthMiddleware, or "".
func GetSubject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
