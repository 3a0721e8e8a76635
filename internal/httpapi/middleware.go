package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/bridevmx/nanodb/internal/authz"
)

// jwtAuthMiddleware parses an optional "Authorization: Bearer <token>"
// header, verifies it against the auth manager, and stashes the resulting
// caller identity in the request context for the row-level authorization
// check further down the chain. A missing or invalid token yields an
// anonymous caller rather than rejecting the request outright — whether
// anonymous access is allowed is the row-level rule's call, not this
// middleware's.
func (s *Service) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, hasBearer := strings.CutPrefix(header, "Bearer ")
		if !hasBearer || token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := s.auth.Verify(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		caller := authz.Caller{UserID: claims.Subject, Authenticated: true}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
