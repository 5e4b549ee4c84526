// Package orchestrator implements C7, the Message Processor: the central
// orchestrator that turns a queued user message into an assistant reply,
// running the provider call, tool loop, artifact emission, and usage
// recording spec.md §4.7 describes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/madfam-io/penny/internal/agent"
	"github.com/madfam-io/penny/internal/agent/routing"
	"github.com/madfam-io/penny/internal/observability"
	"github.com/madfam-io/penny/internal/ratelimit"
	"github.com/madfam-io/penny/internal/usage"
	"github.com/madfam-io/penny/pkg/models"
)

// defaults mirror spec.md §4.7's stated defaults.
const (
	DefaultMaxToolDepth  = 5
	DefaultContextWindow = 40
	DefaultMaxTokens     = 4096
)

// Config wires C7 to the other eight components it orchestrates.
type Config struct {
	// Provider is consulted for completions. In production this is
	// *routing.Router (C2), which itself picks the concrete provider/model;
	// routing.Router satisfies agent.LLMProvider so no adapter is needed.
	Provider agent.LLMProvider

	// Registry and Executor are C5's tool registry and parallel executor.
	Registry *agent.ToolRegistry
	Executor *agent.Executor

	Conversations ConversationStore
	Tenants       TenantStore

	// Usage is C8's recorder. Nil disables usage recording (never fails the
	// request either way, per spec.md §4.8).
	Usage *usage.TenantRecorder

	// Quota is C3's admission gate. Nil disables rate limiting.
	Quota *ratelimit.QuotaGate

	// Events records best-effort "message.processed" notifications (step 9).
	// Nil disables event emission.
	Events *observability.EventRecorder

	Logger *slog.Logger

	// Classifier tags requests for tenant RoutingPolicy evaluation (C2's
	// condition/operator rule language, spec.md §4.2 step 1-2). Nil means
	// policy rules that condition on classifier-derived tags (capability:
	// "code", complexity bonuses) simply never match; numeric/content-only
	// conditions still work.
	Classifier routing.Classifier

	// MaxToolDepth bounds the tool loop (step 6). Default 5.
	MaxToolDepth int
	// ContextWindow bounds how many prior messages are loaded (step 1).
	// Default 40.
	ContextWindow int
	// DefaultMaxTokens is used when a request doesn't specify one.
	DefaultMaxTokens int
}

// Processor is C7's Message Processor.
type Processor struct {
	cfg Config
}

// NewProcessor builds a Processor from cfg, applying spec.md §4.7 defaults
// for any zero-valued tunable.
func NewProcessor(cfg Config) *Processor {
	if cfg.MaxToolDepth <= 0 {
		cfg.MaxToolDepth = DefaultMaxToolDepth
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = DefaultMaxTokens
	}
	return &Processor{cfg: cfg}
}

// Process implements internal/jobs.Handler: it is registered as C9's
// execution job handler. It never returns an error for conditions the spec
// says must instead be captured as message metadata (step 10) — a non-nil
// return here means the job itself should be retried/failed by the queue,
// reserved for infrastructure failures (store unreachable, context
// cancelled) rather than model/tool failures.
func (p *Processor) Process(ctx context.Context, job *models.ExecutionJob) error {
	if job == nil {
		return errors.New("orchestrator: nil job")
	}

	userMsg, err := p.cfg.Conversations.GetMessage(ctx, job.ConversationID, job.MessageID)
	if err != nil {
		return fmt.Errorf("orchestrator: load message %s: %w", job.MessageID, err)
	}

	// Step 2: skip processing when the message is not role=user.
	if userMsg.Role != models.RoleUser {
		return nil
	}

	tenant, err := p.cfg.Tenants.GetTenant(ctx, job.Principal.TenantID)
	if err != nil {
		tenant = &models.Tenant{ID: job.Principal.TenantID, Active: true}
	}

	if p.cfg.Quota != nil {
		if qErr := p.cfg.Quota.Allow(tenant, string(models.MetricRequests), "message.process", job.Principal.PrincipalID); qErr != nil {
			p.failMessage(ctx, userMsg, qErr)
			return nil
		}
	}

	if procErr := p.run(ctx, job, tenant, userMsg); procErr != nil {
		// Step 10: stamp failure metadata, never delete the message.
		p.failMessage(ctx, userMsg, procErr)
		return nil
	}

	return nil
}

func (p *Processor) failMessage(ctx context.Context, userMsg *models.Message, cause error) {
	userMsg.MarkProcessingFailed(cause)
	if err := p.cfg.Conversations.UpdateMessage(ctx, userMsg); err != nil && p.cfg.Logger != nil {
		p.cfg.Logger.Error("orchestrator: failed to stamp processing failure", "error", err, "message_id", userMsg.ID)
	}
}

// run executes steps 1 and 3-9 of spec.md §4.7. The caller (Process)
// handles step 2 (the role check) and step 10 (failure stamping).
func (p *Processor) run(ctx context.Context, job *models.ExecutionJob, tenant *models.Tenant, userMsg *models.Message) error {
	start := time.Now()

	// Step 1: load the conversation's recent window.
	history, err := p.cfg.Conversations.RecentMessages(ctx, job.ConversationID, p.cfg.ContextWindow)
	if err != nil {
		return fmt.Errorf("load conversation window: %w", err)
	}

	// Step 3: resolve tools the tenant has enabled.
	tools := p.resolveTools(tenant)

	messages := toCompletionMessages(history)
	model := p.resolveModel(tenant, messages, tools)

	var (
		finalContent      string
		totalInputTokens  int
		totalOutputTokens int
		assistantMsg      *models.Message
	)

	for depth := 0; depth <= p.cfg.MaxToolDepth; depth++ {
		req := &agent.CompletionRequest{
			Model:     model,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: p.cfg.DefaultMaxTokens,
		}

		// Step 4: invoke C1 (via C2's router) with the assembled messages.
		content, toolCalls, inTok, outTok, err := p.complete(ctx, req)
		if err != nil {
			return fmt.Errorf("completion: %w", err)
		}
		totalInputTokens += inTok
		totalOutputTokens += outTok
		finalContent = content

		// Step 5: persist the assistant message.
		assistantMsg = &models.Message{
			ID:             uuid.NewString(),
			ConversationID: job.ConversationID,
			Role:           models.RoleAssistant,
			Content:        content,
			ToolCalls:      toolCalls,
			TokenCount:     outTok,
		}
		assistantMsg.ParentID = userMsg.ID
		if err := p.cfg.Conversations.AppendMessage(ctx, assistantMsg); err != nil {
			return fmt.Errorf("persist assistant message: %w", err)
		}

		if len(toolCalls) == 0 {
			break
		}
		if depth == p.cfg.MaxToolDepth {
			// Max turn depth reached with pending tool calls; stop looping
			// but keep the assistant's last response as final.
			break
		}

		// Step 6: tool loop. Failures are surfaced as tool-role messages,
		// not aborted.
		toolMessages := p.runTools(ctx, tenant, job, assistantMsg, toolCalls)
		messages = append(messages, agent.CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   content,
			ToolCalls: toolCalls,
		})
		for _, tm := range toolMessages {
			messages = append(messages, agent.CompletionMessage{
				Role:        string(models.RoleTool),
				ToolResults: tm.ToolResults,
			})
		}
	}

	// Step 7: optional artifact emission. WantsVisualArtifact only widens
	// what counts as worth emitting from actual fenced content; it can't
	// conjure an artifact out of prose with no code block.
	artifacts := ExtractArtifacts(finalContent)
	if assistantMsg != nil && len(artifacts) > 0 {
		attachArtifacts(assistantMsg, artifacts)
		_ = p.cfg.Conversations.UpdateMessage(ctx, assistantMsg)
	}

	// Step 8: record usage.
	p.recordUsage(tenant.ID, totalInputTokens, totalOutputTokens, time.Since(start))

	// Step 9: fire message.processed event, best-effort.
	p.fireProcessedEvent(ctx, job, userMsg, totalInputTokens, totalOutputTokens)

	return nil
}

// complete drains a completion stream into its final text, tool calls, and
// token counts.
func (p *Processor) complete(ctx context.Context, req *agent.CompletionRequest) (string, []models.ToolCall, int, int, error) {
	if p.cfg.Provider == nil {
		return "", nil, 0, 0, errors.New("no provider configured")
	}
	stream, err := p.cfg.Provider.Complete(ctx, req)
	if err != nil {
		return "", nil, 0, 0, err
	}

	var (
		content   strings.Builder
		toolCalls []models.ToolCall
		inTok     int
		outTok    int
	)
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return "", nil, 0, 0, chunk.Error
		}
		if chunk.Text != "" {
			content.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			inTok = chunk.InputTokens
			outTok = chunk.OutputTokens
		}
	}
	return content.String(), toolCalls, inTok, outTok, nil
}

// runTools executes every tool call via C5 (with an optional C3 admission
// check per call) and returns the resulting role=tool messages, already
// persisted. Tool failures are turned into error-carrying tool messages
// rather than propagated.
func (p *Processor) runTools(ctx context.Context, tenant *models.Tenant, job *models.ExecutionJob, assistantMsg *models.Message, calls []models.ToolCall) []*models.Message {
	if p.cfg.Executor == nil || len(calls) == 0 {
		return nil
	}

	admitted := make([]models.ToolCall, 0, len(calls))
	rejected := make(map[string]error)
	for _, call := range calls {
		if p.cfg.Quota != nil {
			if err := p.cfg.Quota.Allow(tenant, string(models.MetricToolExecution), call.Name, job.Principal.PrincipalID); err != nil {
				rejected[call.ID] = err
				continue
			}
		}
		admitted = append(admitted, call)
	}

	results := p.cfg.Executor.ExecuteAll(ctx, admitted)
	toolResults := agent.ResultsToMessages(results)

	byID := make(map[string]models.ToolResult, len(toolResults))
	for _, r := range toolResults {
		byID[r.ToolCallID] = r
	}

	out := make([]*models.Message, 0, len(calls))
	for _, call := range calls {
		var result models.ToolResult
		if err, ok := rejected[call.ID]; ok {
			result = models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
		} else if r, ok := byID[call.ID]; ok {
			result = r
		} else {
			result = models.ToolResult{ToolCallID: call.ID, Content: "tool did not return a result", IsError: true}
		}

		msg := &models.Message{
			ID:             uuid.NewString(),
			ConversationID: assistantMsg.ConversationID,
			Role:           models.RoleTool,
			Content:        result.Content,
			ToolResults:    []models.ToolResult{result},
			ParentID:       assistantMsg.ID,
		}
		if err := p.cfg.Conversations.AppendMessage(ctx, msg); err != nil && p.cfg.Logger != nil {
			p.cfg.Logger.Error("orchestrator: failed to persist tool message", "error", err, "tool_call_id", call.ID)
		}
		out = append(out, msg)
	}
	return out
}

func (p *Processor) resolveTools(tenant *models.Tenant) []agent.Tool {
	if p.cfg.Registry == nil {
		return nil
	}
	all := p.cfg.Registry.AsLLMTools()
	if tenant == nil || len(tenant.Settings.ToolAllowlist) == 0 {
		return all
	}
	filtered := make([]agent.Tool, 0, len(all))
	for _, t := range all {
		if tenant.ToolAllowed(t.Name()) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (p *Processor) recordUsage(tenantID string, inTok, outTok int, latency time.Duration) {
	if p.cfg.Usage == nil || tenantID == "" {
		return
	}
	now := time.Now()
	p.cfg.Usage.Record(models.UsageRecord{TenantID: tenantID, Metric: models.MetricTokensIn, Value: float64(inTok), Timestamp: now})
	p.cfg.Usage.Record(models.UsageRecord{TenantID: tenantID, Metric: models.MetricTokensOut, Value: float64(outTok), Timestamp: now})
	p.cfg.Usage.Record(models.UsageRecord{TenantID: tenantID, Metric: models.MetricRequests, Value: 1, Timestamp: now})
	p.cfg.Usage.Record(models.UsageRecord{TenantID: tenantID, Metric: models.MetricLatencyMs, Value: float64(latency.Milliseconds()), Unit: "ms", Timestamp: now})
}

func (p *Processor) fireProcessedEvent(ctx context.Context, job *models.ExecutionJob, userMsg *models.Message, inTok, outTok int) {
	if p.cfg.Events == nil {
		return
	}
	data := map[string]interface{}{
		"conversation_id": job.ConversationID,
		"message_id":      userMsg.ID,
		"tenant_id":       job.Principal.TenantID,
		"input_tokens":    inTok,
		"output_tokens":   outTok,
	}
	// Best-effort: the spec requires this never fails the request.
	_ = p.cfg.Events.Record(ctx, observability.EventTypeMessage, "message.processed", data)
}

func toCompletionMessages(history []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, agent.CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}

func attachArtifacts(msg *models.Message, artifacts []agent.Artifact) {
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	kinds := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		kinds = append(kinds, a.Type)
	}
	msg.Metadata["artifacts"] = kinds
	for _, a := range artifacts {
		msg.Attachments = append(msg.Attachments, models.Attachment{
			ID:       a.ID,
			Type:     a.Type,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     int64(len(a.Data)),
		})
	}
}

// resolveModel implements spec.md §4.2 step 1: load the tenant's routing
// policy (falling back to system default if absent) and evaluate its rules
// against the assembled request. A policy match or its DefaultModel wins;
// otherwise fall back to the tenant's model whitelist, then "" (letting C2's
// Router apply its own system-default selection).
func (p *Processor) resolveModel(tenant *models.Tenant, messages []agent.CompletionMessage, tools []agent.Tool) string {
	probe := &agent.CompletionRequest{Messages: messages, Tools: tools, MaxTokens: p.cfg.DefaultMaxTokens}

	if tenant != nil && tenant.Settings.RoutingPolicy != nil {
		if model, ok := routing.EvaluatePolicy(tenant.Settings.RoutingPolicy, probe, p.cfg.Classifier); ok && tenant.ModelAllowed(model) {
			return model
		}
	}

	if tenant == nil || len(tenant.Settings.ModelWhitelist) == 0 {
		return ""
	}
	return tenant.Settings.ModelWhitelist[0]
}
