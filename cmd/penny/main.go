// Package main provides the CLI entry point for PENNY, the multi-tenant AI
// Request Execution Core: the subsystem that turns a queued user message
// into a completed reply while coordinating provider selection, rate
// limiting, retries, tool invocation, sandboxed execution, and usage
// accounting (spec.md's C1-C9).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/madfam-io/penny/internal/agent"
	"github.com/madfam-io/penny/internal/agent/providers"
	"github.com/madfam-io/penny/internal/agent/routing"
	"github.com/madfam-io/penny/internal/auth"
	"github.com/madfam-io/penny/internal/config"
	"github.com/madfam-io/penny/internal/httpapi"
	"github.com/madfam-io/penny/internal/jobs"
	"github.com/madfam-io/penny/internal/observability"
	"github.com/madfam-io/penny/internal/orchestrator"
	"github.com/madfam-io/penny/internal/ratelimit"
	"github.com/madfam-io/penny/internal/tools/sandbox"
	"github.com/madfam-io/penny/internal/tools/websearch"
	"github.com/madfam-io/penny/internal/usage"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "penny",
		Short:        "PENNY - multi-tenant AI request execution core",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the PENNY execution core server",
		Long: `Start the HTTP surface and background worker pool.

The server will:
1. Load configuration (or apply built-in defaults if no file is given)
2. Register LLM providers and build the model router (C1, C2)
3. Start the job queue worker pool (C9)
4. Serve the HTTP API: messages, tool execution, sandbox, api-key management (C4-C8)

Graceful shutdown runs on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (optional; built-in defaults apply if omitted)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting penny", "version", version, "http_port", cfg.Server.HTTPPort, "default_provider", cfg.LLM.DefaultProvider)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	router, err := buildRouter(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build model router: %w", err)
	}

	registry, executor, sandboxExec, sessions, err := buildTools(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     toAuthAPIKeyConfigs(cfg.Auth.APIKeys),
	})

	conversations := orchestrator.NewMemoryConversationStore()
	tenants := orchestrator.NewMemoryTenantStore()
	quota := ratelimit.NewQuotaGate(ratelimit.DefaultConfig())
	usageRecorder := usage.NewTenantRecorder(1000)
	eventStore := observability.NewMemoryEventStore(1000)
	obsLogger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	events := observability.NewEventRecorder(eventStore, obsLogger)

	processor := orchestrator.NewProcessor(orchestrator.Config{
		Provider:      router,
		Registry:      registry,
		Executor:      executor,
		Conversations: conversations,
		Tenants:       tenants,
		Usage:         usageRecorder,
		Quota:         quota,
		Events:        events,
		Logger:        logger,
		Classifier:    &routing.HeuristicClassifier{},
	})

	queue := jobs.NewPriorityQueue(cfg.Queue.QueueSize)
	schedulerCfg := jobs.SchedulerConfig{
		Concurrency:  cfg.Queue.Concurrency,
		IntervalCap:  cfg.Queue.IntervalCap,
		Interval:     cfg.Queue.Interval,
		JobTimeout:   2 * cfg.Queue.DefaultTimeout,
		MaxRetries:   cfg.Queue.MaxRetries,
		QueueSize:    cfg.Queue.QueueSize,
		DrainTimeout: cfg.Queue.DrainTimeout,
	}
	scheduler := jobs.NewScheduler(schedulerCfg, queue, processor.Process, jobs.AlwaysRetryable)
	go scheduler.Run(ctx)

	gcInterval := cfg.Tools.Sandbox.MaxIdleTime
	if gcInterval <= 0 {
		gcInterval = 5 * time.Minute
	}
	gcTicker := time.NewTicker(gcInterval)
	defer gcTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-gcTicker.C:
				if n := sessions.GC(); n > 0 {
					logger.Debug("sandbox session GC", "reclaimed", n)
				}
			}
		}
	}()

	server := httpapi.NewServer(httpapi.Config{
		Auth:          authService,
		Registry:      registry,
		SandboxExec:   sandboxExec,
		Sessions:      sessions,
		Queue:         queue,
		Conversations: conversations,
		Tenants:       tenants,
		Quota:         quota,
		Logger:        logger,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	if err := server.Start(addr); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	logger.Info("penny started", "http_addr", addr)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	scheduler.Shutdown()

	logger.Info("penny stopped gracefully")
	return nil
}

// loadConfig loads cfg from path, or returns an empty config with defaults
// applied when path is unset — letting `penny serve` run out of the box
// against the Mock Adapter for local dev, per spec.md §4.1's mandatory
// Mock Adapter.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func toAuthAPIKeyConfigs(keys []config.APIKeyConfig) []auth.APIKeyConfig {
	out := make([]auth.APIKeyConfig, 0, len(keys))
	for _, k := range keys {
		out = append(out, auth.APIKeyConfig{
			Key:      k.Key,
			UserID:   k.UserID,
			Email:    k.Email,
			Name:     k.Name,
			TenantID: k.TenantID,
			Scopes:   k.Scopes,
		})
	}
	return out
}

// buildRouter wires C2: one LLMProvider per configured provider, a mandatory
// Mock Adapter (spec.md §4.1), and a Router (C2) selecting among them.
func buildRouter(cfg *config.Config, logger *slog.Logger) (*routing.Router, error) {
	providerMap := map[string]agent.LLMProvider{
		"mock": providers.NewMockProvider(providers.MockConfig{DefaultModel: "mock-1", SupportsTools: true}),
	}

	for name, pcfg := range cfg.LLM.Providers {
		switch name {
		case "anthropic":
			if pcfg.APIKey == "" {
				continue
			}
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pcfg.APIKey,
				DefaultModel: pcfg.DefaultModel,
				BaseURL:      pcfg.BaseURL,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			providerMap["anthropic"] = p
		case "openai":
			if pcfg.APIKey == "" {
				continue
			}
			providerMap["openai"] = providers.NewOpenAIProvider(pcfg.APIKey)
		case "google":
			if pcfg.APIKey == "" {
				continue
			}
			p, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: pcfg.APIKey, DefaultModel: pcfg.DefaultModel})
			if err != nil {
				return nil, fmt.Errorf("google provider: %w", err)
			}
			providerMap["google"] = p
		default:
			logger.Warn("unrecognized llm provider in config, skipping", "provider", name)
		}
	}

	defaultProvider := cfg.LLM.DefaultProvider
	if _, ok := providerMap[defaultProvider]; !ok {
		defaultProvider = "mock"
	}

	var rules []routing.Rule
	for _, r := range cfg.LLM.Routing.Rules {
		rules = append(rules, routing.Rule{
			Name:   r.Name,
			Match:  routing.Match{Patterns: r.Match.Patterns, Tags: r.Match.Tags},
			Target: routing.Target{Provider: r.Target.Provider, Model: r.Target.Model},
		})
	}

	return routing.NewRouter(routing.Config{
		DefaultProvider: defaultProvider,
		PreferLocal:     cfg.LLM.Routing.PreferLocal,
		Rules:           rules,
		Classifier:      &routing.HeuristicClassifier{},
		Fallback:        routing.Target{Provider: defaultProvider, Model: cfg.LLM.DefaultModel},
		FailureCooldown: cfg.LLM.Routing.UnhealthyCooldown,
	}, providerMap), nil
}

// buildTools wires C5 (registry/executor) and C6 (sandbox). The web search
// tool (if any callers register one downstream) and every future tool that
// makes outbound HTTP calls route through internal/net/ssrf via
// internal/tools/websearch's ContentExtractor pattern.
func buildTools(cfg *config.Config, logger *slog.Logger) (*agent.ToolRegistry, *agent.Executor, *sandbox.Executor, *sandbox.SessionStore, error) {
	registry := agent.NewToolRegistry()

	sandboxExec, err := sandbox.NewExecutor(
		sandbox.WithBackend(sandbox.Backend(orDefault(cfg.Tools.Sandbox.Backend, string(sandbox.BackendDocker)))),
		sandbox.WithPoolSize(orDefaultInt(cfg.Tools.Sandbox.PoolSize, 3)),
		sandbox.WithMaxPoolSize(orDefaultInt(cfg.Tools.Sandbox.MaxPoolSize, 10)),
		sandbox.WithDefaultTimeout(orDefaultDuration(cfg.Tools.Sandbox.Timeout, 30*time.Second)),
		sandbox.WithNetworkEnabled(cfg.Tools.Sandbox.NetworkEnabled),
	)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("sandbox executor: %w", err)
	}
	registry.Register(sandboxExec)

	registry.Register(websearch.NewWebSearchTool(&websearch.Config{
		DefaultBackend:     websearch.BackendDuckDuckGo,
		ExtractContent:     true,
		DefaultResultCount: 5,
		CacheTTL:           300,
	}))

	executor := agent.NewExecutor(registry, agent.DefaultExecutorConfig())
	sessions := sandbox.NewSessionStore(0)

	return registry, executor, sandboxExec, sessions, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
