package httpapi

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/pkg/models"
)

type createAPIKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes,omitempty"`
}

type createAPIKeyResponse struct {
	*models.APIKey
	Key string `json:"key"`
}

// handleCreateAPIKey implements POST /v1/api-keys. The plaintext key is
// returned exactly once, in this response, matching models.APIKey's
// contract; it is registered live with the auth service so it can
// authenticate requests immediately.
func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	var req createAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "invalid request body"))
		return
	}
	if req.Name == "" {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "name is required"))
		return
	}

	plaintext, err := generateAPIKey()
	if err != nil {
		writeError(w, apierr.New(apierr.CodeInternal, "failed to generate key"))
		return
	}

	sum := sha256.Sum256([]byte(plaintext))
	key := &models.APIKey{
		ID:        uuid.NewString(),
		TenantID:  p.TenantID,
		UserID:    p.PrincipalID,
		Name:      req.Name,
		Prefix:    plaintext[:min(len(plaintext), s.cfg.APIKeyPrefixLen)],
		HashHex:   hex.EncodeToString(sum[:]),
		Scopes:    req.Scopes,
		Active:    true,
		CreatedAt: time.Now(),
	}
	s.cfg.Auth.RegisterAPIKey(plaintext, &models.User{
		ID:       p.PrincipalID,
		TenantID: p.TenantID,
		Roles:    p.Roles,
	}, req.Scopes)
	s.keys.put(key)

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{APIKey: key, Key: plaintext})
}

// handleListAPIKeys implements GET /v1/api-keys, scoped to the caller's
// tenant. Plaintext is never retained or returned after creation.
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}
	writeJSON(w, http.StatusOK, s.keys.listByTenant(p.TenantID))
}

// handleRevokeAPIKey implements DELETE /v1/api-keys/{id}.
func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	id := chi.URLParam(r, "id")
	key, ok := s.keys.get(id)
	if !ok || key.TenantID != p.TenantID {
		writeError(w, apierr.New(apierr.CodeConversationNotFound, "api key not found"))
		return
	}

	s.cfg.Auth.RevokeAPIKeyHash(key.HashHex)
	s.keys.delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pk_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
