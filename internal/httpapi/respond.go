package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/internal/auth"
	"github.com/madfam-io/penny/pkg/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err as spec.md §7's {code, message, retryable} shape.
// Any error that isn't already an *apierr.Error is wrapped as CodeInternal,
// never leaking its raw text to the client.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.CodeInternal, "internal error")
	}
	writeJSON(w, apiErr.Code.HTTPStatus(), apiErr)
}

// principal extracts the AuthPrincipal the auth middleware attached to the
// request context. Handlers call this after the auth group middleware has
// already rejected unauthenticated requests, so ok should always be true;
// the check here is defense against a handler being wired outside that group.
func principal(r *http.Request) (*models.AuthPrincipal, bool) {
	return auth.PrincipalFromContext(r.Context())
}
