package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/internal/auth"
	"github.com/madfam-io/penny/internal/tools/policy"
	"github.com/madfam-io/penny/pkg/models"
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Tools are registered by name and retrieved for execution during
// message processing. It also tracks each tool's declared dependencies
// (spec.md §9) and, when registered with one, its ToolDefinition — the
// operational config (timeout, retries, rate limit, required scopes,
// resource caps) spec.md §3 names.
type ToolRegistry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	definitions map[string]*models.ToolDefinition
	deps        *dependencyGraph
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:       make(map[string]Tool),
		definitions: make(map[string]*models.ToolDefinition),
		deps:        newDependencyGraph(),
	}
}

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// Register adds a tool to the registry by its name, with no declared
// dependencies and no ToolDefinition. If a tool with the same name already
// exists, it is replaced. Equivalent to RegisterWithDefinition(tool, nil,
// dependencies...).
func (r *ToolRegistry) Register(tool Tool, dependencies ...string) error {
	return r.RegisterWithDefinition(tool, nil, dependencies...)
}

// RegisterWithDefinition adds tool to the registry together with its
// spec.md §3 ToolDefinition (operational config: timeout, retries, rate
// limit, required scopes, sandbox requirement, resource caps) and its
// declared dependencies on other registered tool names. Registration fails
// if the dependency set would introduce a cycle (spec.md §9); the registry
// is left unchanged in that case.
func (r *ToolRegistry) RegisterWithDefinition(tool Tool, def *models.ToolDefinition, dependencies ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if err := r.deps.add(name, dependencies); err != nil {
		return err
	}
	r.tools[name] = tool
	if def != nil {
		r.definitions[name] = def
	}
	return nil
}

// Definition returns the ToolDefinition registered for name, if any. Tools
// registered via the plain Register have none.
func (r *ToolRegistry) Definition(name string) (*models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.definitions[name]
	return def, ok
}

// Unregister removes a tool from the registry by name. If other registered
// tools declare name as a dependency, Unregister fails unless cascade is
// true, in which case name and everything that (transitively) depends on it
// is removed together — spec.md §4.5/§9's cascading-unregister rule.
func (r *ToolRegistry) Unregister(name string, cascade bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cascade {
		for _, n := range r.deps.removeCascade(name) {
			delete(r.tools, n)
			delete(r.definitions, n)
		}
		return nil
	}

	if blockers := r.deps.remove(name); len(blockers) > 0 {
		return fmt.Errorf("tool %q still depended on by %v; unregister with cascade=true to remove them too", name, blockers)
	}
	delete(r.tools, name)
	delete(r.definitions, name)
	return nil
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name with the given JSON parameters.
// Returns an error result if the tool is not found or parameters are invalid.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	def, hasDef := r.definitions[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{
			Content: "tool not found: " + name,
			IsError: true,
		}, nil
	}

	// spec.md §4.4's require(scope): a tool declaring requiredScopes admits
	// only a principal holding one of them, or the "*" wildcard.
	if hasDef && len(def.Config.RequiredScopes) > 0 {
		principal, _ := auth.PrincipalFromContext(ctx)
		if !hasAnyScope(principal, def.Config.RequiredScopes) {
			return nil, apierr.New(apierr.CodeUnauthorized, "missing required scope for tool "+name)
		}
	}

	if err := ValidateToolParams(name, tool.Schema(), params); err != nil {
		return &ToolResult{
			Content: err.Error(),
			IsError: true,
		}, nil
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	// spec.md §4.5 step 8: a tool that returns neither a result nor an error
	// is itself a failure, not a success silently carrying a nil payload.
	if result == nil {
		return nil, apierr.New(apierr.CodeInvalidResult, "tool "+name+" returned no result and no error")
	}
	return result, nil
}

// hasAnyScope reports whether principal holds one of scopes, or the "*"
// wildcard, per spec.md §4.4's require(scope) admission rule.
func hasAnyScope(principal *models.AuthPrincipal, scopes []string) bool {
	if principal == nil {
		return false
	}
	if principal.HasScope("*") {
		return true
	}
	for _, s := range scopes {
		if principal.HasScope(s) {
			return true
		}
	}
	return false
}

// AsLLMTools returns all registered tools as a slice for passing to LLM providers.
func (r *ToolRegistry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// FilterByPolicy returns the subset of tools a tenant/principal's policy
// allows, implementing spec.md §4.5's tenant/scope-filtered tool visibility.
func FilterByPolicy(resolver *policy.Resolver, toolPolicy *policy.Policy, tools []Tool) []Tool {
	if resolver == nil || toolPolicy == nil {
		return tools
	}
	filtered := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		if resolver.IsAllowed(toolPolicy, tool.Name()) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// NormalizeToolName normalizes a tool name to its canonical form, resolving
// aliases via the policy resolver when provided.
func NormalizeToolName(name string, resolver *policy.Resolver) string {
	if resolver == nil {
		return policy.NormalizeTool(name)
	}
	return resolver.CanonicalName(name)
}

// MatchesToolPatterns reports whether toolName matches any of the given
// patterns (supporting "mcp:*" and ".*"-suffix wildcards).
func MatchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	return matchesToolPatterns(patterns, toolName, resolver)
}

func matchesToolPatterns(patterns []string, toolName string, resolver *policy.Resolver) bool {
	if len(patterns) == 0 {
		return false
	}
	name := NormalizeToolName(toolName, resolver)
	for _, pattern := range patterns {
		if matchToolPattern(NormalizeToolName(pattern, resolver), name) {
			return true
		}
	}
	return false
}

func matchToolPattern(pattern, toolName string) bool {
	if pattern == "" || toolName == "" {
		return false
	}
	if pattern == "mcp:*" {
		return strings.HasPrefix(toolName, "mcp:")
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(toolName, prefix)
	}
	return pattern == toolName
}

// GuardToolResult applies result guarding (truncation/redaction) to a single
// tool result, per spec.md §9's bounded result handling.
func GuardToolResult(guard ToolResultGuard, toolName string, result models.ToolResult, resolver *policy.Resolver) models.ToolResult {
	return guard.Apply(toolName, result, resolver)
}

// GuardToolResults applies GuardToolResult across a batch, matching results
// back to their originating tool call by ToolCallID.
func GuardToolResults(guard ToolResultGuard, toolCalls []models.ToolCall, results []models.ToolResult, resolver *policy.Resolver) []models.ToolResult {
	if !guard.active() {
		return results
	}
	if len(results) == 0 {
		return results
	}

	namesByID := make(map[string]string, len(toolCalls))
	for _, tc := range toolCalls {
		if tc.ID != "" {
			namesByID[tc.ID] = tc.Name
		}
	}

	guarded := make([]models.ToolResult, len(results))
	for i, res := range results {
		toolName := namesByID[res.ToolCallID]
		if toolName == "" && i < len(toolCalls) {
			toolName = toolCalls[i].Name
		}
		guarded[i] = GuardToolResult(guard, toolName, res, resolver)
	}
	return guarded
}

// SessionLock is a refcounted per-key mutex used to serialize concurrent
// access to a single session (chat session in the tool registry's original
// use, sandbox session in C6's use — see internal/tools/sandbox).
type SessionLock struct {
	mu   sync.Mutex
	refs int
}

// SessionLocker hands out per-key exclusive locks, releasing the underlying
// mutex entry once its last holder unlocks.
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*SessionLock
}

// NewSessionLocker creates an empty SessionLocker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{locks: make(map[string]*SessionLock)}
}

// Lock blocks until the caller holds the exclusive lock for key, returning
// an unlock function. An empty key is a no-op (no contention to serialize).
func (l *SessionLocker) Lock(key string) func() {
	if strings.TrimSpace(key) == "" {
		return func() {}
	}

	l.mu.Lock()
	lock := l.locks[key]
	if lock == nil {
		lock = &SessionLock{}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
