package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/madfam-io/penny/internal/jobs"
	"github.com/madfam-io/penny/pkg/models"
)

func doPostMessage(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/messages", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	rec := newRecorder()
	s.routes().ServeHTTP(rec, req)
	return rec
}

func TestHandlePostMessageHappyPath(t *testing.T) {
	s, queue, convStore := newTestServer(t)

	// Simulate C9's worker pool: pop the queued job and append the assistant
	// reply the real orchestrator.Processor would produce.
	go func() {
		job, ok := queue.Pop()
		if !ok {
			return
		}
		convStore.AppendMessage(t.Context(), &models.Message{
			ID:             "reply-1",
			ConversationID: job.ConversationID,
			Role:           models.RoleAssistant,
			Content:        "hello back",
			ParentID:       job.MessageID,
			CreatedAt:      time.Now(),
		})
	}()

	rec := doPostMessage(t, s, `{"conversationId":"conv-1","content":"hi"}`)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var msg models.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if msg.Content != "hello back" {
		t.Fatalf("expected reply content %q, got %q", "hello back", msg.Content)
	}
}

func TestHandlePostMessageRequiresAuth(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/v1/messages", bytes.NewBufferString(`{"conversationId":"c","content":"hi"}`))
	rec := newRecorder()
	s.routes().ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestHandlePostMessageCrossTenantConversationNotFound(t *testing.T) {
	s, _, convStore := newTestServer(t)
	convStore.PutConversation(&models.Conversation{ID: "other-tenant-conv", TenantID: "some-other-tenant"})

	rec := doPostMessage(t, s, `{"conversationId":"other-tenant-conv","content":"hi"}`)
	if rec.Code != 404 {
		t.Fatalf("expected 404 for cross-tenant conversation, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandlePostMessageInvalidBody(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doPostMessage(t, s, `{"content":"hi"}`) // missing conversationId
	if rec.Code != 400 {
		t.Fatalf("expected 400 for missing conversationId, got %d", rec.Code)
	}
}

func TestHandlePostMessageQueueFullMapsTo429(t *testing.T) {
	s, _, _ := newTestServer(t)
	// Fill the queue to capacity 0 by swapping in a zero-capacity queue.
	s.cfg.Queue = jobs.NewPriorityQueue(1)
	if err := s.cfg.Queue.Push(&models.ExecutionJob{JobID: "occupying"}); err != nil {
		t.Fatalf("failed to pre-fill queue: %v", err)
	}

	rec := doPostMessage(t, s, `{"conversationId":"conv-2","content":"hi"}`)
	if rec.Code != 429 {
		t.Fatalf("expected 429 when queue is full, got %d: %s", rec.Code, rec.Body.String())
	}
}
