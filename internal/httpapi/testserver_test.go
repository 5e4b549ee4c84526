package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/madfam-io/penny/internal/agent"
	"github.com/madfam-io/penny/internal/auth"
	"github.com/madfam-io/penny/internal/jobs"
	"github.com/madfam-io/penny/internal/orchestrator"
	"github.com/madfam-io/penny/internal/ratelimit"
	"github.com/madfam-io/penny/internal/tools/sandbox"
)

// echoTool is a minimal agent.Tool used to exercise handleExecuteTool without
// depending on a real tool implementation's external dependencies.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input back" }
func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: string(params)}, nil
}

func newTestRegistry() *agent.ToolRegistry {
	registry := agent.NewToolRegistry()
	registry.Register(echoTool{})
	return registry
}

const testAPIKey = "test-suite-key"
const testTenantID = "tenant-1"

func newTestServer(t *testing.T) (*Server, *jobs.PriorityQueue, *orchestrator.MemoryConversationStore) {
	t.Helper()

	authService := auth.NewService(auth.Config{
		APIKeys: []auth.APIKeyConfig{
			{Key: testAPIKey, UserID: "user-1", TenantID: testTenantID, Scopes: []string{"admin"}},
		},
	})

	sandboxExec, err := sandbox.NewExecutor(sandbox.WithBackend(sandbox.BackendDocker))
	if err != nil {
		t.Fatalf("sandbox.NewExecutor() error = %v", err)
	}

	cfg := Config{
		Auth:          authService,
		Registry:      newTestRegistry(),
		SandboxExec:   sandboxExec,
		Sessions:      sandbox.NewSessionStore(time.Minute),
		Queue:         jobs.NewPriorityQueue(0),
		Conversations: orchestrator.NewMemoryConversationStore(),
		Tenants:       orchestrator.NewMemoryTenantStore(),
		Quota:         ratelimit.NewQuotaGate(ratelimit.DefaultConfig()),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s := NewServer(cfg)
	return s, cfg.Queue, cfg.Conversations.(*orchestrator.MemoryConversationStore)
}

func newRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
