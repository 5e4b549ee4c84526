package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/madfam-io/penny/internal/agent"
	"github.com/madfam-io/penny/internal/agent/providers"
	"github.com/madfam-io/penny/internal/observability"
	"github.com/madfam-io/penny/internal/usage"
	"github.com/madfam-io/penny/pkg/models"
)

// echoTool is a minimal agent.Tool used to exercise C7's tool loop without a
// real sandbox or external dependency.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params, &input)
	return &agent.ToolResult{Content: "echo: " + input.Text}, nil
}

func newTestProcessor(t *testing.T, provider *providers.MockProvider) (*Processor, *MemoryConversationStore) {
	t.Helper()

	registry := agent.NewToolRegistry()
	registry.Register(echoTool{})

	convStore := NewMemoryConversationStore()
	tenantStore := NewMemoryTenantStore()
	tenantStore.Put(&models.Tenant{ID: "tenant-1", Active: true})

	usageRecorder := usage.NewTenantRecorder(0)
	events := observability.NewEventRecorder(observability.NewMemoryEventStore(0), nil)

	proc := NewProcessor(Config{
		Provider:      provider,
		Registry:      registry,
		Executor:      agent.NewExecutor(registry, nil),
		Conversations: convStore,
		Tenants:       tenantStore,
		Usage:         usageRecorder,
		Events:        events,
	})
	return proc, convStore
}

func seedUserMessage(t *testing.T, store *MemoryConversationStore, conversationID, content string) *models.Message {
	t.Helper()
	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        content,
	}
	if err := store.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed user message: %v", err)
	}
	return msg
}

func TestProcessSimpleReply(t *testing.T) {
	provider := providers.NewMockProvider(providers.MockConfig{})
	provider.Enqueue(providers.MockScript{Content: "hello back", OutputTokens: 3, InputTokens: 5})

	proc, store := newTestProcessor(t, provider)
	userMsg := seedUserMessage(t, store, "conv-1", "hello")

	job := &models.ExecutionJob{
		JobID:          "job-1",
		ConversationID: "conv-1",
		MessageID:      userMsg.ID,
		Principal:      models.AuthPrincipal{PrincipalID: "user-1", TenantID: "tenant-1"},
	}

	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	msgs, err := store.RecentMessages(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", len(msgs))
	}
	assistant := msgs[1]
	if assistant.Role != models.RoleAssistant {
		t.Fatalf("expected assistant role, got %s", assistant.Role)
	}
	if assistant.Content != "hello back" {
		t.Fatalf("unexpected assistant content: %q", assistant.Content)
	}
	if assistant.ParentID != userMsg.ID {
		t.Fatalf("expected assistant ParentID to reference user message")
	}
	if _, failed := userMsg.Metadata["processingFailed"]; failed {
		t.Fatalf("user message should not be marked failed")
	}
}

func TestProcessToolLoop(t *testing.T) {
	provider := providers.NewMockProvider(providers.MockConfig{SupportsTools: true})
	provider.Enqueue(
		providers.MockScript{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"text":"hi"}`)}},
		providers.MockScript{Content: "done"},
	)

	proc, store := newTestProcessor(t, provider)
	userMsg := seedUserMessage(t, store, "conv-2", "please echo hi")

	job := &models.ExecutionJob{
		JobID:          "job-2",
		ConversationID: "conv-2",
		MessageID:      userMsg.ID,
		Principal:      models.AuthPrincipal{PrincipalID: "user-1", TenantID: "tenant-1"},
	}

	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	msgs, err := store.RecentMessages(context.Background(), "conv-2", 0)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	// user, assistant(tool-call), tool, assistant(final)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[1].Role != models.RoleAssistant || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("expected first assistant message to carry a tool call, got %+v", msgs[1])
	}
	toolMsg := msgs[2]
	if toolMsg.Role != models.RoleTool {
		t.Fatalf("expected role=tool message, got %s", toolMsg.Role)
	}
	if toolMsg.ParentID != msgs[1].ID {
		t.Fatalf("expected tool message ParentID to reference the tool-calling assistant message")
	}
	if len(toolMsg.ToolResults) != 1 || toolMsg.ToolResults[0].Content != "echo: hi" {
		t.Fatalf("unexpected tool result: %+v", toolMsg.ToolResults)
	}
	final := msgs[3]
	if final.Content != "done" {
		t.Fatalf("expected final assistant content %q, got %q", "done", final.Content)
	}
}

func TestProcessSkipsNonUserMessage(t *testing.T) {
	provider := providers.NewMockProvider(providers.MockConfig{})
	proc, store := newTestProcessor(t, provider)

	assistantMsg := &models.Message{ID: uuid.NewString(), ConversationID: "conv-3", Role: models.RoleAssistant, Content: "hi"}
	if err := store.AppendMessage(context.Background(), assistantMsg); err != nil {
		t.Fatalf("seed assistant message: %v", err)
	}

	job := &models.ExecutionJob{
		ConversationID: "conv-3",
		MessageID:      assistantMsg.ID,
		Principal:      models.AuthPrincipal{TenantID: "tenant-1"},
	}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if len(provider.Calls()) != 0 {
		t.Fatalf("expected no provider calls for a non-user message")
	}
}

func TestProcessMarksFailureOnProviderError(t *testing.T) {
	provider := providers.NewMockProvider(providers.MockConfig{})
	provider.Enqueue(providers.MockScript{Err: providers.NewProviderError("mock", "", errTestProvider)})

	proc, store := newTestProcessor(t, provider)
	userMsg := seedUserMessage(t, store, "conv-4", "hello")

	job := &models.ExecutionJob{
		ConversationID: "conv-4",
		MessageID:      userMsg.ID,
		Principal:      models.AuthPrincipal{TenantID: "tenant-1"},
	}
	if err := proc.Process(context.Background(), job); err != nil {
		t.Fatalf("Process should swallow provider failures as message metadata, got error: %v", err)
	}

	loaded, err := store.GetMessage(context.Background(), "conv-4", userMsg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if failed, _ := loaded.Metadata["processingFailed"].(bool); !failed {
		t.Fatalf("expected user message to be marked processingFailed, got metadata %+v", loaded.Metadata)
	}
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const errTestProvider = staticErr("boom")
