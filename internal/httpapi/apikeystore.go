package httpapi

import (
	"sync"

	"github.com/madfam-io/penny/pkg/models"
)

// apiKeyStore tracks issued API keys for listing/revocation. Only the
// at-rest hash ever lives here, per models.APIKey's HashHex comment;
// plaintext is returned to the caller exactly once, at creation.
// Grounded on the same mutex-guarded-map shape as internal/jobs/store.go.
type apiKeyStore struct {
	mu   sync.RWMutex
	byID map[string]*models.APIKey
}

func newAPIKeyStore() *apiKeyStore {
	return &apiKeyStore{byID: make(map[string]*models.APIKey)}
}

func (s *apiKeyStore) put(key *models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *key
	s.byID[key.ID] = &clone
}

func (s *apiKeyStore) listByTenant(tenantID string) []*models.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.APIKey, 0)
	for _, k := range s.byID {
		if k.TenantID == tenantID {
			clone := *k
			out = append(out, &clone)
		}
	}
	return out
}

func (s *apiKeyStore) get(id string) (*models.APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	clone := *k
	return &clone, true
}

func (s *apiKeyStore) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}
