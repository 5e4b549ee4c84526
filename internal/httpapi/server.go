// Package httpapi implements spec.md §6's HTTP surface: the external REST
// API fronting C7 (messages), C5 (direct tool execution), C6 (sandbox
// execute/sessions), and API key management for C4. Routing is go-chi
// (github.com/go-chi/chi/v5), grounded on goadesign-goa-ai's go.mod, which
// already carries it; the graceful listen/shutdown shape below is adapted
// from the teacher's internal/gateway/http_server.go.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/madfam-io/penny/internal/auth"
	"github.com/madfam-io/penny/internal/jobs"
	"github.com/madfam-io/penny/internal/orchestrator"
	"github.com/madfam-io/penny/internal/ratelimit"
	"github.com/madfam-io/penny/internal/tools/sandbox"

	agentpkg "github.com/madfam-io/penny/internal/agent"
)

// Config wires the HTTP surface to the components it fronts.
type Config struct {
	Auth          *auth.Service
	Registry      *agentpkg.ToolRegistry
	SandboxExec   *sandbox.Executor
	Sessions      *sandbox.SessionStore
	Queue         *jobs.PriorityQueue
	Conversations orchestrator.ConversationStore
	Tenants       orchestrator.TenantStore
	Quota         *ratelimit.QuotaGate
	Logger        *slog.Logger

	// APIKeyPrefixLen bounds how much of the plaintext key is retained for
	// display (models.APIKey.Prefix). Default 8.
	APIKeyPrefixLen int
}

// Server is the HTTP listener for spec.md §6's API surface.
type Server struct {
	cfg        Config
	keys       *apiKeyStore
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// NewServer builds a Server and its chi router but does not start listening.
func NewServer(cfg Config) *Server {
	if cfg.APIKeyPrefixLen <= 0 {
		cfg.APIKeyPrefixLen = 8
	}
	s := &Server{
		cfg:    cfg,
		keys:   newAPIKeyStore(),
		logger: cfg.Logger,
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPMiddleware(s.cfg.Auth, s.logger))

		r.Post("/v1/messages", s.handlePostMessage)
		r.Post("/v1/tools/{name}/execute", s.handleExecuteTool)
		r.Post("/v1/sandbox/execute", s.handleSandboxExecute)
		r.Post("/v1/sandbox/execute/stream", s.handleSandboxExecuteStream)
		r.Post("/v1/sandbox/sessions", s.handleCreateSandboxSession)
		r.Delete("/v1/sandbox/sessions/{id}", s.handleCloseSandboxSession)

		r.Post("/v1/api-keys", s.handleCreateAPIKey)
		r.Get("/v1/api-keys", s.handleListAPIKeys)
		r.Delete("/v1/api-keys/{id}", s.handleRevokeAPIKey)
	})

	return r
}

// Start begins listening on addr in a background goroutine, returning once
// the listener is bound. Adapted from the teacher's startHTTPServer.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("httpapi: server error", "error", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("httpapi: listening", "addr", addr)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline (or 5s
// if ctx carries none) for in-flight requests to drain.
func (s *Server) Shutdown(ctx context.Context) {
	if s == nil || s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil && s.logger != nil {
		s.logger.Warn("httpapi: shutdown error", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
