package sandbox

import (
	"sync"
	"time"

	"github.com/madfam-io/penny/pkg/models"
)

// SessionStore owns the lifecycle of sandbox sessions: lazy creation,
// variable persistence across calls, and idle-TTL reclamation, per spec.md
// §3's "expires after configurable idle (default 30 min)... created lazily
// on first execution; destroyed on TTL, explicit close, or shutdown."
// Grounded on the same mutex-guarded-map shape as internal/jobs/store.go and
// internal/orchestrator/store.go rather than a new pattern.
type SessionStore struct {
	mu      sync.Mutex
	byID    map[string]*models.SandboxSession
	timeout time.Duration
}

// NewSessionStore creates an empty store. idleTimeout <= 0 uses
// models.DefaultSandboxIdleTimeout.
func NewSessionStore(idleTimeout time.Duration) *SessionStore {
	if idleTimeout <= 0 {
		idleTimeout = models.DefaultSandboxIdleTimeout
	}
	return &SessionStore{byID: make(map[string]*models.SandboxSession), timeout: idleTimeout}
}

// GetOrCreate returns the session for id, creating it lazily (scoped to
// tenantID) if it doesn't exist yet or has expired. Either way the returned
// session's activity clock is reset.
func (s *SessionStore) GetOrCreate(id, tenantID string) *models.SandboxSession {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.byID[id]
	if !ok || session.Expired(now, s.timeout) {
		session = &models.SandboxSession{
			ID:        id,
			TenantID:  tenantID,
			CreatedAt: now,
			Variables: make(map[string]string),
		}
		s.byID[id] = session
	}
	session.Touch(now)
	return session
}

// Get returns the session for id without creating it, and false if absent
// or expired.
func (s *SessionStore) Get(id string) (*models.SandboxSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[id]
	if !ok || session.Expired(time.Now(), s.timeout) {
		return nil, false
	}
	return session, true
}

// Close removes a session explicitly (DELETE /v1/sandbox/sessions/{id}).
// Reports whether a session existed to remove.
func (s *SessionStore) Close(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

// SetVariable persists a variable on a session for later executions to read.
func (s *SessionStore) SetVariable(id, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.byID[id]
	if !ok {
		return
	}
	if session.Variables == nil {
		session.Variables = make(map[string]string)
	}
	session.Variables[key] = value
	session.Touch(time.Now())
}

// GC removes every session idle past its timeout and returns how many were
// reclaimed. Intended to run on an interval ticker owned by the caller
// (cmd/penny wires one at startup).
func (s *SessionStore) GC() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.byID {
		if session.Expired(now, s.timeout) {
			delete(s.byID, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live (not necessarily unexpired) sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
