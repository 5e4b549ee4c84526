package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/internal/jobs"
	"github.com/madfam-io/penny/internal/orchestrator"
	"github.com/madfam-io/penny/pkg/models"
)

// postMessageRequest is spec.md §6's POST /v1/messages body.
type postMessageRequest struct {
	ConversationID   string   `json:"conversationId"`
	Content          string   `json:"content"`
	Model            string   `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"maxTokens,omitempty"`
	ToolsEnabled     []string `json:"toolsEnabled,omitempty"`
	ArtifactsEnabled bool     `json:"artifactsEnabled,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
}

// replyPollInterval and replyPollTimeout bound how long the HTTP layer waits
// on C9's worker pool to finish processing a queued message before giving up.
//
// This is a deliberate simplification: true per-token streaming would mean
// bypassing the job queue and calling C2's router directly from this
// package, duplicating C7's context-assembly/tool-loop logic here. Instead
// the message is enqueued through the real C9 PriorityQueue/Scheduler (so
// that component is genuinely exercised, not bypassed), and this handler
// polls C7's ConversationStore for the resulting assistant message. For
// stream=true this means coarse-grained "done in one burst" events rather
// than incremental provider chunks; documented as an open design decision
// in DESIGN.md rather than silently pretended away.
const (
	replyPollInterval = 50 * time.Millisecond
	replyPollTimeout  = 60 * time.Second
)

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "invalid request body"))
		return
	}
	if req.ConversationID == "" || req.Content == "" {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "conversationId and content are required"))
		return
	}

	ctx := r.Context()
	if conv, err := s.cfg.Conversations.GetConversation(ctx, req.ConversationID); err == nil {
		if conv.TenantID != "" && conv.TenantID != p.TenantID {
			// Tenant isolation: never confirm cross-tenant existence.
			writeError(w, apierr.New(apierr.CodeConversationNotFound, "conversation not found"))
			return
		}
	} else if err != orchestrator.ErrNotFound {
		writeError(w, apierr.New(apierr.CodeInternal, "failed to load conversation"))
		return
	}

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Content,
		CreatedAt:      time.Now(),
	}
	if err := s.cfg.Conversations.AppendMessage(ctx, userMsg); err != nil {
		writeError(w, apierr.New(apierr.CodeInternal, "failed to persist message"))
		return
	}

	job := &models.ExecutionJob{
		JobID:          uuid.NewString(),
		ConversationID: req.ConversationID,
		MessageID:      userMsg.ID,
		Principal:      *p,
		CreatedAt:      time.Now(),
	}

	if err := s.cfg.Queue.Push(job); err != nil {
		switch err.(type) {
		case jobs.ErrQueueFull:
			writeError(w, apierr.New(apierr.CodeQueueFull, "job queue is full"))
		default:
			writeError(w, apierr.New(apierr.CodeServiceUnavailable, "job queue unavailable"))
		}
		return
	}

	if req.Stream {
		s.streamReply(w, r, req.ConversationID, userMsg.ID)
		return
	}

	reply, err := s.pollForReply(ctx, req.ConversationID, userMsg.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// pollForReply waits for the assistant message C7 appends in response to
// parentID, per the polling strategy documented above handlePostMessage.
func (s *Server) pollForReply(ctx context.Context, conversationID, parentID string) (*models.Message, error) {
	deadline := time.Now().Add(replyPollTimeout)
	ticker := time.NewTicker(replyPollInterval)
	defer ticker.Stop()

	for {
		if msg := s.findReply(ctx, conversationID, parentID); msg != nil {
			if failed, _ := msg.Metadata["processingFailed"].(bool); failed {
				return nil, apierr.New(apierr.CodeInternal, fmt.Sprintf("%v", msg.Metadata["error"]))
			}
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return nil, apierr.New(apierr.CodeCancelled, "request cancelled")
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil, apierr.New(apierr.CodeTimeout, "timed out waiting for reply")
			}
		}
	}
}

func (s *Server) findReply(ctx context.Context, conversationID, parentID string) *models.Message {
	history, err := s.cfg.Conversations.RecentMessages(ctx, conversationID, 0)
	if err != nil {
		return nil
	}
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role == models.RoleAssistant && msg.ParentID == parentID {
			return msg
		}
	}
	return nil
}

// streamReply renders spec.md §6's SSE wire format: "data: {json}\n\n" per
// event, terminated by exactly one "done" or "error" event.
func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, conversationID, parentID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	reply, err := s.pollForReply(r.Context(), conversationID, parentID)
	if err != nil {
		apiErr, ok := err.(*apierr.Error)
		if !ok {
			apiErr = apierr.New(apierr.CodeInternal, "internal error")
		}
		writeSSEEvent(w, map[string]any{"type": "error", "code": apiErr.Code, "message": apiErr.Message})
		if canFlush {
			flusher.Flush()
		}
		return
	}

	writeSSEEvent(w, map[string]any{"type": "content", "content": reply.Content})
	writeSSEEvent(w, map[string]any{"type": "done"})
	if canFlush {
		flusher.Flush()
	}
}

func writeSSEEvent(w http.ResponseWriter, event map[string]any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
