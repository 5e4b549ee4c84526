package httpapi

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/internal/tools/sandbox"
)

// sandboxExecError translates a sandbox.Executor.Execute error into the
// apierr code spec.md §7 maps it to: a security policy rejection or a
// resource-limit abort are distinguishable failures, not generic internal
// errors.
func sandboxExecError(err error) *apierr.Error {
	var policyErr *sandbox.PolicyViolationError
	if errors.As(err, &policyErr) {
		return apierr.New(apierr.CodeSecurityPolicy, policyErr.Error())
	}
	var limitErr *sandbox.ResourceLimitError
	if errors.As(err, &limitErr) {
		if limitErr.Kind == "cpu" {
			return apierr.New(apierr.CodeCPULimitExceeded, limitErr.Error())
		}
		return apierr.New(apierr.CodeMemoryLimitExceeded, limitErr.Error())
	}
	return apierr.New(apierr.CodeInternal, "sandbox execution failed")
}

// handleSandboxExecute implements POST /v1/sandbox/execute: C6's one-shot
// code execution, synchronous.
func (s *Server) handleSandboxExecute(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(r); !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "failed to read request body"))
		return
	}

	result, err := s.cfg.SandboxExec.Execute(r.Context(), json.RawMessage(body))
	if err != nil {
		writeError(w, sandboxExecError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSandboxExecuteStream implements POST /v1/sandbox/execute/stream.
// The sandbox backends (internal/tools/sandbox) run code to completion and
// return one ExecuteResult rather than incrementally streaming stdout, so
// this renders that single result as the wire format's terminal event
// instead of pretending to emit partial output. A future backend that
// exposes incremental stdout could plug into the same SSE writer below
// without changing the endpoint's shape.
func (s *Server) handleSandboxExecuteStream(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(r); !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "failed to read request body"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	bw := bufio.NewWriter(w)

	result, err := s.cfg.SandboxExec.Execute(r.Context(), json.RawMessage(body))
	if err != nil {
		apiErr := sandboxExecError(err)
		writeSSEBuffered(bw, map[string]any{"type": "error", "code": apiErr.Code, "message": apiErr.Message})
		bw.Flush()
		return
	}
	writeSSEBuffered(bw, map[string]any{"type": "content", "result": result})
	writeSSEBuffered(bw, map[string]any{"type": "done"})
	bw.Flush()
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func writeSSEBuffered(w io.Writer, event map[string]any) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

type createSandboxSessionRequest struct {
	ID string `json:"id,omitempty"`
}

// handleCreateSandboxSession implements POST /v1/sandbox/sessions: lazily
// creates (or refreshes) a Sandbox Session that subsequent /v1/sandbox/execute
// calls can pin to via ExecuteParams.SessionID for variable persistence
// across calls, per spec.md §3's Sandbox Session lifecycle.
func (s *Server) handleCreateSandboxSession(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(r)
	if !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	var req createSandboxSessionRequest
	if r.ContentLength != 0 {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	session := s.cfg.Sessions.GetOrCreate(req.ID, p.TenantID)
	writeJSON(w, http.StatusCreated, session)
}

// handleCloseSandboxSession implements DELETE /v1/sandbox/sessions/{id}.
func (s *Server) handleCloseSandboxSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(r); !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	id := chi.URLParam(r, "id")
	if !s.cfg.Sessions.Close(id) {
		writeError(w, apierr.New(apierr.CodeConversationNotFound, "sandbox session not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
