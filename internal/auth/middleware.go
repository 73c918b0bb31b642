package auth

import (
	"context"
	"net/http"

	"renderdesk/internal/pkg/errors"
	"renderdesk/internal/pkg/logger"
	"renderdesk/internal/pkg/middleware"
)

type claimsKey struct{}

// Middleware rejects requests without a valid session with 401 and stores the
// claims in the request context.
func Middleware(sessions *Sessions, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := sessions.FromRequest(r)
			if err != nil {
				middleware.HandleError(w, r, log, errors.WrapWithCode(err, errors.CodeUnauthorized, "auth.session", "Unauthorized"))
				return
			}
			ctx := ContextWithClaims(r.Context(), claims)
			ctx = logger.ContextWithUserID(ctx, claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
