package auth

import (
	"errors"
	"strings"

	"github.com/madfam-io/penny/pkg/models"
)

var (
	// ErrMissingCredentials is returned when no recognized scheme is present
	// in the Authorization header.
	ErrMissingCredentials = errors.New("missing credentials")
)

// ResolvePrincipal parses an "Authorization" header value ("Bearer <jwt>" or
// "ApiKey <opaque>") into an models.AuthPrincipal. This is C4's resolve
// operation: every inbound request is reduced to exactly one principal before
// any other component sees it.
func (s *Service) ResolvePrincipal(authorization string) (*models.AuthPrincipal, error) {
	if s == nil || !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	scheme, credential, ok := splitAuthHeader(authorization)
	if !ok {
		return nil, ErrMissingCredentials
	}

	switch scheme {
	case "bearer":
		// Bearer may carry either a JWT or an opaque API key (spec.md §4.4);
		// try JWT first since it's self-describing, then fall back.
		s.mu.RLock()
		jwtSvc := s.jwt
		s.mu.RUnlock()
		if jwtSvc != nil {
			if claims, err := jwtSvc.ValidateClaims(credential); err == nil {
				return &models.AuthPrincipal{
					PrincipalID: claims.Subject,
					TenantID:    strings.TrimSpace(claims.TenantID),
					Kind:        models.PrincipalUser,
					Scopes:      claims.Scopes,
					Roles:       claims.Roles,
				}, nil
			}
		}
		return s.apiKeyPrincipal(credential)

	case "apikey":
		return s.apiKeyPrincipal(credential)

	default:
		return nil, ErrMissingCredentials
	}
}

func (s *Service) apiKeyPrincipal(credential string) (*models.AuthPrincipal, error) {
	user, scopes, err := s.validateAPIKey(credential)
	if err != nil {
		return nil, err
	}
	return &models.AuthPrincipal{
		PrincipalID: user.ID,
		TenantID:    user.TenantID,
		Kind:        models.PrincipalAPIKey,
		Scopes:      scopes,
		Roles:       user.Roles,
	}, nil
}

// splitAuthHeader extracts the lowercased scheme and the raw credential from
// an Authorization header value. Accepts "Bearer" and "ApiKey" schemes.
func splitAuthHeader(header string) (scheme, credential string, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	scheme = strings.ToLower(strings.TrimSpace(parts[0]))
	credential = strings.TrimSpace(parts[1])
	if credential == "" {
		return "", "", false
	}
	switch scheme {
	case "bearer", "apikey":
		return scheme, credential, true
	default:
		return "", "", false
	}
}
