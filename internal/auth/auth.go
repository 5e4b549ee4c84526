package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/madfam-io/penny/pkg/models"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Config configures authentication helpers.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	APIKeys     []APIKeyConfig
}

// APIKeyConfig declares a static API key and associated identity.
type APIKeyConfig struct {
	Key      string
	UserID   string
	Email    string
	Name     string
	TenantID string
	Scopes   []string
}

// apiKeyEntry is an API key at rest: only its SHA-256 hash and resolved
// identity are kept in memory, never the plaintext key.
type apiKeyEntry struct {
	user   *models.User
	scopes []string
}

// Service validates JWTs and API keys.
type Service struct {
	mu        sync.RWMutex
	jwt       *JWTService
	apiKeys   map[string]*apiKeyEntry // keyed by hex-encoded SHA-256 of the plaintext key
	users     UserStore
	providers map[string]OAuthProvider
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.TokenExpiry)
	}
	service.apiKeys = buildAPIKeyMap(cfg.APIKeys)
	service.providers = map[string]OAuthProvider{}
	return service
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Enabled reports whether auth checks should run.
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jwt != nil || len(s.apiKeys) > 0
}

// GenerateJWT issues a signed token for the given user.
func (s *Service) GenerateJWT(user *models.User) (string, error) {
	if s == nil {
		return "", ErrAuthDisabled
	}
	s.mu.RLock()
	jwt := s.jwt
	s.mu.RUnlock()
	if jwt == nil {
		return "", ErrAuthDisabled
	}
	return jwt.Generate(user)
}

// ValidateJWT validates a JWT and returns the associated user.
func (s *Service) ValidateJWT(token string) (*models.User, error) {
	if s == nil {
		return nil, ErrAuthDisabled
	}
	s.mu.RLock()
	jwt := s.jwt
	s.mu.RUnlock()
	if jwt == nil {
		return nil, ErrAuthDisabled
	}
	return jwt.Validate(token)
}

// ValidateAPIKey validates an API key and returns the associated user. Keys
// are stored at rest as SHA-256 hashes, so this never compares plaintext
// against plaintext; the constant-time step guards the hash comparison
// against timing side channels.
func (s *Service) ValidateAPIKey(key string) (*models.User, error) {
	user, _, err := s.validateAPIKey(key)
	return user, err
}

func (s *Service) validateAPIKey(key string) (*models.User, []string, error) {
	if s == nil {
		return nil, nil, ErrAuthDisabled
	}
	s.mu.RLock()
	apiKeys := s.apiKeys
	s.mu.RUnlock()

	if len(apiKeys) == 0 {
		return nil, nil, ErrAuthDisabled
	}
	inputHash := hashAPIKey(strings.TrimSpace(key))
	var matched *apiKeyEntry
	for storedHash, entry := range apiKeys {
		if subtle.ConstantTimeCompare([]byte(inputHash), []byte(storedHash)) == 1 {
			matched = entry
		}
	}
	if matched == nil {
		return nil, nil, ErrInvalidKey
	}
	return matched.user, matched.scopes, nil
}

// RegisterAPIKey installs a live API key at runtime, keyed by the SHA-256 of
// plaintext exactly like the static config path. Used by the API key
// management HTTP handlers (POST /v1/api-keys) so a freshly issued key is
// immediately valid for ResolvePrincipal without a restart.
func (s *Service) RegisterAPIKey(plaintext string, user *models.User, scopes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.apiKeys == nil {
		s.apiKeys = map[string]*apiKeyEntry{}
	}
	s.apiKeys[hashAPIKey(strings.TrimSpace(plaintext))] = &apiKeyEntry{user: user, scopes: scopes}
}

// RevokeAPIKeyHash removes a live API key by its at-rest hash (models.APIKey
// stores only the hash, never plaintext, so revocation never needs it).
func (s *Service) RevokeAPIKeyHash(hashHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.apiKeys, hashHex)
}

func buildAPIKeyMap(keys []APIKeyConfig) map[string]*apiKeyEntry {
	out := map[string]*apiKeyEntry{}
	for _, entry := range keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			continue
		}
		userID := strings.TrimSpace(entry.UserID)
		if userID == "" {
			sum := sha256.Sum256([]byte(key))
			userID = "api_" + hex.EncodeToString(sum[:8])
		}
		out[hashAPIKey(key)] = &apiKeyEntry{
			user: &models.User{
				ID:       userID,
				TenantID: strings.TrimSpace(entry.TenantID),
				Email:    strings.TrimSpace(entry.Email),
				Name:     strings.TrimSpace(entry.Name),
			},
			scopes: entry.Scopes,
		}
	}
	return out
}
