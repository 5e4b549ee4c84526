package agent

import (
	"context"

	"github.com/madfam-io/penny/pkg/models"
)

type conversationKey struct{}

// WithConversation stores the active Conversation in the context so
// downstream tools (e.g. the compaction tool) can look it up without
// threading it through every call signature.
func WithConversation(ctx context.Context, conv *models.Conversation) context.Context {
	if conv == nil {
		return ctx
	}
	return context.WithValue(ctx, conversationKey{}, conv)
}

// ConversationFromContext retrieves the Conversation stored by WithConversation.
func ConversationFromContext(ctx context.Context) *models.Conversation {
	conv, _ := ctx.Value(conversationKey{}).(*models.Conversation)
	return conv
}
