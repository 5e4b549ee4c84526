package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/madfam-io/penny/internal/apierr"
)

// handleExecuteTool implements POST /v1/tools/{name}/execute: a direct,
// synchronous invocation of a single C5 tool, bypassing the conversation
// loop entirely. The request body is passed through verbatim as the tool's
// JSON parameters.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(r); !ok {
		writeError(w, apierr.New(apierr.CodeUnauthenticated, "missing principal"))
		return
	}

	name := chi.URLParam(r, "name")
	if _, ok := s.cfg.Registry.Get(name); !ok {
		writeError(w, apierr.New(apierr.CodeToolNotFound, "tool not found: "+name))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, apierr.New(apierr.CodeInvalidParams, "failed to read request body"))
		return
	}

	result, err := s.cfg.Registry.Execute(r.Context(), name, json.RawMessage(body))
	if err != nil {
		// Registry.Execute returns a typed *apierr.Error for recognized
		// failures (missing scope, malformed result); writeError renders it
		// directly and falls back to CodeInternal for anything else.
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
