package auth

import (
	"context"

	"github.com/madfam-io/penny/pkg/models"
)

type userContextKey struct{}
type principalContextKey struct{}

// WithUser attaches a user to the context.
func WithUser(ctx context.Context, user *models.User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext retrieves a user from the context.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.User)
	return user, ok
}

// WithPrincipal stamps the resolved AuthPrincipal onto the context. C4
// (Tenant Context Resolver) calls this once per request after validating the
// caller's credential; every downstream component reads the principal back
// out rather than re-deriving it.
func WithPrincipal(ctx context.Context, principal *models.AuthPrincipal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext retrieves the AuthPrincipal stamped by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*models.AuthPrincipal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*models.AuthPrincipal)
	return principal, ok
}
