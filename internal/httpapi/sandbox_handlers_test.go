package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/madfam-io/penny/pkg/models"
)

func TestSandboxSessionCreateAndClose(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/sandbox/sessions", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	rec := newRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session models.SandboxSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a generated session id")
	}
	if session.TenantID != testTenantID {
		t.Fatalf("expected session scoped to tenant %q, got %q", testTenantID, session.TenantID)
	}

	delReq := httptest.NewRequest("DELETE", "/v1/sandbox/sessions/"+session.ID, nil)
	delReq.Header.Set("Authorization", "ApiKey "+testAPIKey)
	delRec := newRecorder()
	s.routes().ServeHTTP(delRec, delReq)
	if delRec.Code != 204 {
		t.Fatalf("expected 204 closing session, got %d: %s", delRec.Code, delRec.Body.String())
	}

	// Closing an already-closed session should now 404.
	delReq2 := httptest.NewRequest("DELETE", "/v1/sandbox/sessions/"+session.ID, nil)
	delReq2.Header.Set("Authorization", "ApiKey "+testAPIKey)
	delRec2 := newRecorder()
	s.routes().ServeHTTP(delRec2, delReq2)
	if delRec2.Code != 404 {
		t.Fatalf("expected 404 closing an already-closed session, got %d", delRec2.Code)
	}
}

func TestSandboxSessionCreateWithExplicitID(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/v1/sandbox/sessions", bytes.NewBufferString(`{"id":"fixed-session"}`))
	req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	rec := newRecorder()
	s.routes().ServeHTTP(rec, req)

	if rec.Code != 201 {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session models.SandboxSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	if session.ID != "fixed-session" {
		t.Fatalf("expected caller-supplied id to be honored, got %q", session.ID)
	}
}

func TestCloseSandboxSessionNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest("DELETE", "/v1/sandbox/sessions/never-created", nil)
	req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	rec := newRecorder()
	s.routes().ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("expected 404 closing an unknown session, got %d: %s", rec.Code, rec.Body.String())
	}
}
