package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/madfam-io/penny/internal/apierr"
)

// HTTPMiddleware resolves the request's Authorization header into a
// models.AuthPrincipal and stores it on the request context via
// WithPrincipal. Requests without valid credentials are rejected with 401
// before reaching the wrapped handler.
func HTTPMiddleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := service.ResolvePrincipal(r.Header.Get("Authorization"))
			if err != nil {
				if logger != nil {
					logger.Warn("request authentication failed", "error", err, "path", r.URL.Path)
				}
				message := "invalid credentials"
				if errors.Is(err, ErrMissingCredentials) {
					message = "missing credentials"
				}
				writeAuthError(w, apierr.New(apierr.CodeUnauthenticated, message))
				return
			}

			ctx := WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError renders apiErr as spec.md §7's {code, message, retryable}
// JSON envelope — the same shape internal/httpapi's writeError produces.
// It's duplicated rather than imported: httpapi already imports auth, so
// importing httpapi here would cycle.
func writeAuthError(w http.ResponseWriter, apiErr *apierr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(apiErr)
}
