package auth

import (
	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/pkg/models"
)

// RequireScope implements spec.md §4.4's require(scope): a principal admits
// iff it holds scope itself or the wildcard "*". Returns nil when admitted,
// or an *apierr.Error otherwise (CodeUnauthenticated for a missing
// principal, CodeUnauthorized for one that lacks the scope).
func RequireScope(p *models.AuthPrincipal, scope string) error {
	if p == nil {
		return apierr.New(apierr.CodeUnauthenticated, "missing principal")
	}
	if p.HasScope(scope) || p.HasScope("*") {
		return nil
	}
	return apierr.New(apierr.CodeUnauthorized, "missing required scope: "+scope)
}
