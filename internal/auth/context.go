package auth

import (
	"context"
	"net/http"
)

type claimsContextKey struct{}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok
}

// UserIDFromRequest reports the user id the bearer middleware attached to r.
func UserIDFromRequest(r *http.Request) (int64, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		return 0, false
	}
	return claims.UserID, true
}
