package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/madfam-io/penny/internal/apierr"
	"github.com/madfam-io/penny/internal/ratelimit"
	"github.com/madfam-io/penny/pkg/models"
)

// ExecutorConfig configures the parallel tool executor behavior including
// concurrency limits, timeouts, and retry strategies.
type ExecutorConfig struct {
	// MaxConcurrency limits the number of parallel tool executions
	// Default: 5
	MaxConcurrency int

	// DefaultTimeout is the default timeout for tool execution
	// Default: 30s
	DefaultTimeout time.Duration

	// DefaultRetries is the default number of retries for retryable errors
	// Default: 2
	DefaultRetries int

	// RetryBackoff is the initial backoff duration between retries
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff
	// Default: 5s
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolConfig holds per-tool configuration overrides for timeout, retry, and priority settings.
type ToolConfig struct {
	// Timeout overrides the default timeout for this tool
	Timeout time.Duration

	// Retries overrides the default retries for this tool
	Retries int

	// RetryBackoff overrides the initial backoff for this tool
	RetryBackoff time.Duration

	// Priority affects execution order (higher = first)
	// Default: 0
	Priority int
}

// Executor manages parallel tool execution with retry and backpressure handling.
// It provides concurrency limiting via semaphores and tracks execution metrics.
type Executor struct {
	registry   *ToolRegistry
	config     *ExecutorConfig
	toolConfig map[string]*ToolConfig
	mu         sync.RWMutex

	// Semaphore for concurrency limiting
	sem chan struct{}

	// Metrics
	metrics *ExecutorMetrics

	// executions tracks the ToolExecution state machine (spec.md §3) for
	// every call this executor has handled, keyed by ToolCallID.
	execMu     sync.Mutex
	executions map[string]*models.ToolExecution

	// toolLimiters holds one rate limiter per tool that declares a
	// ToolDefinition.Config.RateLimit, built lazily on first use.
	limiterMu    sync.Mutex
	toolLimiters map[string]*ratelimit.Limiter
}

// ExecutorMetrics tracks executor performance metrics including execution counts,
// retries, failures, timeouts, and panics.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor creates a new parallel tool executor with the given registry and configuration.
// If config is nil, DefaultExecutorConfig is used.
func NewExecutor(registry *ToolRegistry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}

	return &Executor{
		registry:     registry,
		config:       config,
		toolConfig:   make(map[string]*ToolConfig),
		sem:          make(chan struct{}, config.MaxConcurrency),
		metrics:      &ExecutorMetrics{},
		executions:   make(map[string]*models.ToolExecution),
		toolLimiters: make(map[string]*ratelimit.Limiter),
	}
}

// ConfigureTool sets per-tool configuration overrides for the named tool.
func (e *Executor) ConfigureTool(name string, config *ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = config
}

// GetToolConfig returns the configuration for a tool: an explicit
// ConfigureTool override if one was set, otherwise a ToolConfig derived
// from the tool's registered ToolDefinition (timeoutMs, maxRetries), or nil
// if neither exists.
func (e *Executor) getToolConfig(name string) *ToolConfig {
	e.mu.RLock()
	tc, ok := e.toolConfig[name]
	e.mu.RUnlock()
	if ok {
		return tc
	}

	if e.registry == nil {
		return nil
	}
	def, ok := e.registry.Definition(name)
	if !ok {
		return nil
	}

	fallback := &ToolConfig{Retries: def.Config.MaxRetries}
	if def.Config.TimeoutMs > 0 {
		fallback.Timeout = time.Duration(def.Config.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// toolLimiter returns the rate limiter for a tool's registered
// ToolDefinition.Config.RateLimit, creating it on first use, or nil if the
// tool has no definition or no rate limit configured. This gives each
// ToolDefinition its own limiter independent of C3's tenant-scoped
// QuotaGate, matching spec.md §3's per-tool rateLimit.
func (e *Executor) toolLimiter(name string) *ratelimit.Limiter {
	if e.registry == nil {
		return nil
	}
	def, ok := e.registry.Definition(name)
	if !ok || def.Config.RateLimit.Requests <= 0 {
		return nil
	}

	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()
	if l, ok := e.toolLimiters[name]; ok {
		return l
	}

	windowSec := def.Config.RateLimit.WindowSec
	if windowSec <= 0 {
		windowSec = 1
	}
	burst := def.Config.RateLimit.Burst
	if burst <= 0 {
		burst = def.Config.RateLimit.Requests
	}
	l := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: float64(def.Config.RateLimit.Requests) / float64(windowSec),
		BurstSize:         burst,
		Enabled:           true,
	})
	e.toolLimiters[name] = l
	return l
}

// GetExecution returns the tracked ToolExecution for a tool call, keyed by
// ToolCallID, if this executor has handled one.
func (e *Executor) GetExecution(toolCallID string) (*models.ToolExecution, bool) {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	ex, ok := e.executions[toolCallID]
	return ex, ok
}

func (e *Executor) trackExecution(ex *models.ToolExecution) {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	e.executions[ex.ID] = ex
}

// finishExecution transitions ex to its terminal status and folds the
// call's final outcome into the tracked record.
func finishExecution(ex *models.ToolExecution, status models.ToolExecutionStatus, result *ExecutionResult) {
	ex.Retries = result.Attempts - 1
	if ex.Retries < 0 {
		ex.Retries = 0
	}
	ex.Transition(status)
	switch {
	case result.Error != nil:
		ex.Error = result.Error.Error()
	case result.Result != nil:
		ex.Result = result.Result.Content
	}
}

// ExecutionResult holds the result of a single tool execution including
// timing information and retry attempts.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll executes multiple tool calls in parallel with concurrency limits.
// Results are returned in the same order as the input calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}

	wg.Wait()
	return results
}

// Execute executes a single tool call with retry logic and timeout handling.
// Acquires a semaphore slot for backpressure control before execution.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Attempts:   0,
	}

	execution := &models.ToolExecution{
		ID:       call.ID,
		ToolName: call.Name,
		Params:   AsJSON(call.Input),
		Status:   models.ToolExecQueued,
	}
	e.trackExecution(execution)

	// Acquire semaphore for backpressure
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		finishExecution(execution, models.ToolExecCancelled, result)
		return result
	}

	execution.StartedAt = time.Now()
	execution.Transition(models.ToolExecRunning)

	if limiter := e.toolLimiter(call.Name); limiter != nil && !limiter.Allow(call.Name) {
		result.Error = NewToolError(call.Name, apierr.New(apierr.CodeRateLimitExceeded, "tool rate limit exceeded: "+call.Name)).
			WithType(ToolErrorRateLimit).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		finishExecution(execution, models.ToolExecFailed, result)
		return result
	}

	// Get tool config
	tc := e.getToolConfig(call.Name)
	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff

	if tc != nil {
		if tc.Timeout > 0 {
			timeout = tc.Timeout
		}
		if tc.Retries >= 0 {
			maxRetries = tc.Retries
		}
		if tc.RetryBackoff > 0 {
			backoff = tc.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		// Execute with timeout and resource sampling
		execResult, execErr := e.executeWithResourceLimits(ctx, call, timeout)

		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)

			e.metrics.mu.Lock()
			e.metrics.TotalExecutions++
			if attempt > 0 {
				e.metrics.TotalRetries += int64(attempt)
			}
			e.metrics.mu.Unlock()

			finishExecution(execution, models.ToolExecCompleted, result)
			return result
		}

		lastErr = execErr

		// Check if error is retryable
		if !IsToolRetryable(execErr) {
			break
		}

		// Don't retry if context is done
		if ctx.Err() != nil {
			break
		}

		// Don't retry on last attempt
		if attempt >= maxRetries {
			break
		}

		// Exponential backoff
		sleepDuration := backoff * time.Duration(1<<uint(attempt))
		if sleepDuration > e.config.MaxRetryBackoff {
			sleepDuration = e.config.MaxRetryBackoff
		}

		execution.Transition(models.ToolExecRetrying)

		select {
		case <-time.After(sleepDuration):
			// Continue to next attempt
			execution.Transition(models.ToolExecRunning)
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
			break
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)

	e.metrics.mu.Lock()
	e.metrics.TotalExecutions++
	e.metrics.TotalFailures++
	terminal := models.ToolExecFailed
	if toolErr, ok := GetToolError(lastErr); ok {
		if toolErr.Type == ToolErrorTimeout {
			e.metrics.TotalTimeouts++
			terminal = models.ToolExecTimeout
		} else if toolErr.Type == ToolErrorPanic {
			e.metrics.TotalPanics++
		}
	}
	e.metrics.mu.Unlock()

	finishExecution(execution, terminal, result)
	return result
}

// executeWithTimeout executes a tool call with a timeout.
func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	// Create timeout context
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Channel for result
	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			toolErr := NewToolError(call.Name, err).WithToolCallID(call.ID)
			resultCh <- execResult{err: toolErr}
			return
		}
		if result == nil {
			toolErr := NewToolError(call.Name, apierr.New(apierr.CodeInvalidResult, "tool returned no result and no error")).
				WithType(ToolErrorInvalidResult).
				WithToolCallID(call.ID)
			resultCh <- execResult{err: toolErr}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			// Parent context cancelled
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		// Timeout
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// executeWithResourceLimits wraps executeWithTimeout with a coarse,
// process-wide memory sampler when the tool declares MaxMemoryMB. Go gives
// no way to attribute heap growth to a single goroutine, so this samples
// total process heap allocation against a pre-call baseline — a
// deliberately coarse proxy, sufficient to catch a single tool call that
// balloons the heap, not to isolate it from concurrent calls. CPU isn't
// sampled here: there's no comparably portable, honest per-goroutine CPU
// signal available without cgroups or pprof instrumentation (see DESIGN.md).
func (e *Executor) executeWithResourceLimits(ctx context.Context, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	var maxMemoryMB int
	if e.registry != nil {
		if def, ok := e.registry.Definition(call.Name); ok {
			maxMemoryMB = def.Config.MaxMemoryMB
		}
	}
	if maxMemoryMB <= 0 {
		return e.executeWithTimeout(ctx, call, timeout)
	}

	sampleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.executeWithTimeout(sampleCtx, call, timeout)
		done <- outcome{result, err}
	}()

	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	limitBytes := uint64(maxMemoryMB) * 1024 * 1024

	for {
		select {
		case out := <-done:
			return out.result, out.err
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc > baseline.HeapAlloc && stats.HeapAlloc-baseline.HeapAlloc > limitBytes {
				cancel()
				<-done
				return nil, NewToolError(call.Name, apierr.New(apierr.CodeMemoryLimitExceeded,
					fmt.Sprintf("tool %q exceeded its %dMB memory limit", call.Name, maxMemoryMB))).
					WithType(ToolErrorMemoryLimit).
					WithToolCallID(call.ID)
			}
		}
	}
}

// Metrics returns a copy-safe snapshot of the executor metrics.
func (e *Executor) Metrics() *ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return &ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.TotalExecutions,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalTimeouts:   e.metrics.TotalTimeouts,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a thread-safe copy of executor metrics at a point in time.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// ResultsToMessages converts execution results to tool result messages suitable for
// including in conversation history.
func ResultsToMessages(results []*ExecutionResult) []models.ToolResult {
	toolResults := make([]models.ToolResult, len(results))

	for i, r := range results {
		if r.Error != nil {
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Error.Error(),
				IsError:    true,
			}
		} else if r.Result != nil {
			toolResults[i] = models.ToolResult{
				ToolCallID: r.ToolCallID,
				Content:    r.Result.Content,
				IsError:    r.Result.IsError,
			}
		}
	}

	return toolResults
}

// AnyErrors returns true if any execution result contains an error or failure.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}

// AsJSON converts tool input to JSON if it is not already a json.RawMessage, []byte, or string.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
