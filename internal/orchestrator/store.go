package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/madfam-io/penny/pkg/models"
)

// ErrNotFound is returned when a conversation or tenant lookup misses.
var ErrNotFound = errors.New("orchestrator: not found")

// ConversationStore persists conversations and their messages. The Message
// Processor (C7) never deletes a message — even a failed one is stamped and
// kept, per spec.md §4.7 step 10.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// RecentMessages returns up to limit messages for conversationID, ordered
	// oldest first, bounding C7's context-assembly window (step 1).
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	// UpdateMessage persists in-place edits to an existing message (used by
	// step 10's failure-metadata stamping).
	UpdateMessage(ctx context.Context, msg *models.Message) error
	// GetMessage fetches a single message by ID, used to load the triggering
	// user message a queued ExecutionJob refers to.
	GetMessage(ctx context.Context, conversationID, messageID string) (*models.Message, error)
}

// MemoryConversationStore is an in-memory ConversationStore, grounded on the
// insertion-ordered, mutex-guarded map pattern used by internal/jobs.Store.
type MemoryConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // conversationID -> messages, oldest first
}

// NewMemoryConversationStore creates an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

// PutConversation inserts or replaces a conversation record directly,
// bypassing message flow. Used by callers (HTTP handlers, tests) that create
// conversations ahead of the first message.
func (s *MemoryConversationStore) PutConversation(conv *models.Conversation) {
	if conv == nil || conv.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *conv
	s.conversations[conv.ID] = &clone
}

func (s *MemoryConversationStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (s *MemoryConversationStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	start := len(all) - limit
	out := make([]*models.Message, limit)
	for i, m := range all[start:] {
		clone := *m
		out[i] = &clone
	}
	return out, nil
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.ConversationID == "" {
		return errors.New("orchestrator: message requires a conversation id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		s.conversations[msg.ConversationID] = &models.Conversation{
			ID:        msg.ConversationID,
			CreatedAt: msg.CreatedAt,
			UpdatedAt: msg.CreatedAt,
		}
	}
	s.conversations[msg.ConversationID].UpdatedAt = msg.CreatedAt

	clone := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &clone)
	return nil
}

func (s *MemoryConversationStore) GetMessage(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			clone := *m
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryConversationStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[msg.ConversationID]
	for i, existing := range list {
		if existing.ID == msg.ID {
			clone := *msg
			list[i] = &clone
			return nil
		}
	}
	return ErrNotFound
}

// TenantStore resolves a tenant by ID. C3's quota gate and C7's tool/model
// resolution both consult it to bound a request by its tenant's settings.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
}

// MemoryTenantStore is an in-memory TenantStore.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*models.Tenant
}

// NewMemoryTenantStore creates an empty store.
func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]*models.Tenant)}
}

// Put inserts or replaces a tenant record.
func (s *MemoryTenantStore) Put(tenant *models.Tenant) {
	if tenant == nil || tenant.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *tenant
	s.tenants[tenant.ID] = &clone
}

func (s *MemoryTenantStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *tenant
	return &clone, nil
}

// List returns every known tenant, sorted by ID. Used by admin surfaces.
func (s *MemoryTenantStore) List() []*models.Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		clone := *t
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
