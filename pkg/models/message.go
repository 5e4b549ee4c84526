package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Conversation is an ordered sequence of Messages, scoped to a single tenant.
type Conversation struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Message is one turn in a Conversation. Insertion order is monotonic by
// CreatedAt; a tool message always carries ParentID pointing at the
// assistant message that requested the tool call.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	ToolCalls      []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult   `json:"tool_results,omitempty"`
	ParentID       string         `json:"parent_id,omitempty"`
	TokenCount     int            `json:"token_count"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MarkProcessingFailed stamps metadata per spec.md §4.7 step 10, without
// ever deleting the message.
func (m *Message) MarkProcessingFailed(err error) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata["processingFailed"] = true
	if err != nil {
		m.Metadata["error"] = err.Error()
	}
	m.Metadata["failedAt"] = time.Now().UTC()
}

// Attachment represents a file or media part of a message's content.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution, folded back into
// the conversation as a role=tool message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// User represents an authenticated human operator of a tenant.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Active    bool      `json:"active"`
	Roles     []string  `json:"roles,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey is stored only as a SHA-256 hash of the plaintext key. The
// plaintext format is pk_<base64url(32 random bytes)> and is returned to
// the caller exactly once, at creation time.
type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"` // first 8 chars of the plaintext, for display
	HashHex    string     `json:"-"`
	Scopes     []string   `json:"scopes,omitempty"`
	Active     bool       `json:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the key is past its ExpiresAt, if set.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
