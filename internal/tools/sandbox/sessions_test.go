package sandbox

import (
	"testing"
	"time"
)

func TestSessionStoreGetOrCreateLazilyCreates(t *testing.T) {
	store := NewSessionStore(time.Minute)
	session := store.GetOrCreate("s1", "tenant-1")
	if session.TenantID != "tenant-1" {
		t.Fatalf("expected tenant-1, got %q", session.TenantID)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", store.Len())
	}
}

func TestSessionStoreVariablePersistence(t *testing.T) {
	store := NewSessionStore(time.Minute)
	store.GetOrCreate("s1", "tenant-1")
	store.SetVariable("s1", "x", "42")

	session, ok := store.Get("s1")
	if !ok {
		t.Fatalf("expected session to exist")
	}
	if session.Variables["x"] != "42" {
		t.Fatalf("expected variable to persist, got %+v", session.Variables)
	}
}

func TestSessionStoreExpiresIdleSessions(t *testing.T) {
	store := NewSessionStore(1 * time.Nanosecond)
	store.GetOrCreate("s1", "tenant-1")
	time.Sleep(2 * time.Millisecond)

	if _, ok := store.Get("s1"); ok {
		t.Fatalf("expected expired session to be unavailable")
	}
	if removed := store.GC(); removed != 1 {
		t.Fatalf("expected GC to reclaim 1 session, got %d", removed)
	}
	if store.Len() != 0 {
		t.Fatalf("expected store to be empty after GC")
	}
}

func TestSessionStoreCloseRemovesSession(t *testing.T) {
	store := NewSessionStore(time.Minute)
	store.GetOrCreate("s1", "tenant-1")
	if !store.Close("s1") {
		t.Fatalf("expected Close to report removal")
	}
	if store.Close("s1") {
		t.Fatalf("expected second Close to report no-op")
	}
}
