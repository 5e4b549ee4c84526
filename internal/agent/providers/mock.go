package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/madfam-io/penny/internal/agent"
	"github.com/madfam-io/penny/pkg/models"
)

// MockScript is a single canned response a MockProvider returns on its next
// Complete call. Exactly one of Content, ToolCall, or Err should be set.
type MockScript struct {
	Content  string
	ToolCall *models.ToolCall
	Err      *ProviderError

	InputTokens  int
	OutputTokens int
}

// MockConfig configures the deterministic Mock Adapter (spec C1's "mandatory
// Mock Adapter" for tests and local dev).
type MockConfig struct {
	// DefaultModel is returned from Models() and used when a request omits one.
	DefaultModel string

	// SupportsTools controls the SupportsTools() capability flag.
	SupportsTools bool
}

// MockProvider implements agent.LLMProvider deterministically: given the same
// request (or the same queued script), it always produces the same response.
// Tests drive its behavior by enqueuing MockScripts; absent a queued script it
// echoes the last user message so ad-hoc calls still produce stable output.
type MockProvider struct {
	mu            sync.Mutex
	defaultModel  string
	supportsTools bool
	scripts       []MockScript
	calls         []*agent.CompletionRequest
}

var _ agent.LLMProvider = (*MockProvider)(nil)

// NewMockProvider creates a Mock Adapter.
func NewMockProvider(cfg MockConfig) *MockProvider {
	model := strings.TrimSpace(cfg.DefaultModel)
	if model == "" {
		model = "mock-1"
	}
	return &MockProvider{
		defaultModel:  model,
		supportsTools: cfg.SupportsTools,
	}
}

// Enqueue appends a scripted response to be returned by the next Complete
// call(s), in FIFO order. Safe for concurrent use.
func (p *MockProvider) Enqueue(scripts ...MockScript) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, scripts...)
}

// Calls returns every request this provider has received, in order.
func (p *MockProvider) Calls() []*agent.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*agent.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Name returns the provider name.
func (p *MockProvider) Name() string {
	return "mock"
}

// Models returns the single static mock model.
func (p *MockProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: p.defaultModel, Name: "Mock Model", ContextSize: 128000, SupportsVision: true},
	}
}

// SupportsTools reports the configured tool-calling capability.
func (p *MockProvider) SupportsTools() bool {
	return p.supportsTools
}

// Complete returns a deterministic single-chunk-then-done stream, or replays
// the next queued script. It never talks to the network.
func (p *MockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, NewProviderError("mock", "", errors.New("request is nil")).WithCode("invalid_request_error")
	}

	script, ok := p.nextScript()
	p.recordCall(req)

	out := make(chan *agent.CompletionChunk, 4)
	go func() {
		defer close(out)

		select {
		case <-ctx.Done():
			out <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		if ok && script.Err != nil {
			out <- &agent.CompletionChunk{Error: script.Err, Done: true}
			return
		}

		if ok && script.ToolCall != nil {
			out <- &agent.CompletionChunk{ToolCall: script.ToolCall}
			out <- &agent.CompletionChunk{Done: true, InputTokens: script.InputTokens, OutputTokens: script.OutputTokens}
			return
		}

		var content string
		var inputTokens, outputTokens int
		if ok {
			content = script.Content
			inputTokens, outputTokens = script.InputTokens, script.OutputTokens
		} else {
			content = deterministicEcho(req)
		}
		if inputTokens == 0 {
			inputTokens = estimateTokens(req)
		}
		if outputTokens == 0 {
			outputTokens = estimateTokenCount(content)
		}

		for _, word := range splitPreservingSpaces(content) {
			select {
			case <-ctx.Done():
				out <- &agent.CompletionChunk{Error: ctx.Err(), Done: true}
				return
			case out <- &agent.CompletionChunk{Text: word}:
			}
		}
		out <- &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	}()

	return out, nil
}

func (p *MockProvider) nextScript() (MockScript, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.scripts) == 0 {
		return MockScript{}, false
	}
	next := p.scripts[0]
	p.scripts = p.scripts[1:]
	return next, true
}

func (p *MockProvider) recordCall(req *agent.CompletionRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
}

// deterministicEcho derives stable output from the request content, so the
// same conversation always produces the same mock reply without any
// scripting required.
func deterministicEcho(req *agent.CompletionRequest) string {
	lastUser := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(lastUser) == "" {
		return "mock: (empty request)"
	}
	return fmt.Sprintf("mock: %s", lastUser)
}

func estimateTokens(req *agent.CompletionRequest) int {
	total := estimateTokenCount(req.System)
	for _, msg := range req.Messages {
		total += estimateTokenCount(msg.Content)
	}
	return total
}

// estimateTokenCount gives a deterministic, provider-independent token
// estimate (roughly 4 chars/token, matching the teacher's other providers'
// fallback heuristics) so usage recording has stable numbers in tests.
func estimateTokenCount(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

func splitPreservingSpaces(s string) []string {
	if s == "" {
		return nil
	}
	fields := strings.SplitAfter(s, " ")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// FingerprintRequest returns a stable hash of a request's semantic content,
// useful for keying canned scripts by request shape rather than by call order.
func FingerprintRequest(req *agent.CompletionRequest) string {
	if req == nil {
		return ""
	}
	payload, _ := json.Marshal(req.Messages)
	sum := sha256.Sum256(append([]byte(req.Model+"|"+req.System+"|"), payload...))
	return hex.EncodeToString(sum[:])
}
