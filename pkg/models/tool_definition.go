package models

import (
	"encoding/json"
	"regexp"
)

// toolNamePattern is the name-validity invariant from spec.md §3:
// ^[a-z][a-z0-9_]*$
var toolNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidToolName reports whether name satisfies the ToolDefinition naming
// invariant.
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

// ToolRateLimit bounds how often a tool may be invoked.
type ToolRateLimit struct {
	Requests  int `json:"requests"`
	WindowSec int `json:"window_sec"`
	Burst     int `json:"burst,omitempty"`
}

// ToolConfig enumerates the operational constraints a handler runs under.
type ToolConfig struct {
	TimeoutMs           int           `json:"timeout_ms"`
	MaxRetries          int           `json:"max_retries"`
	RetryableErrorCodes []string      `json:"retryable_error_codes,omitempty"`
	RequiresSandbox     bool          `json:"requires_sandbox,omitempty"`
	RateLimit           ToolRateLimit `json:"rate_limit,omitempty"`
	RequiredScopes      []string      `json:"required_scopes,omitempty"`
	MaxMemoryMB         int           `json:"max_memory_mb,omitempty"`
	MaxCPUPercent       int           `json:"max_cpu_percent,omitempty"`
}

// ToolDefinition describes a registered tool: its identity, parameter
// contract, and the config its executor enforces. The handler itself is not
// part of this struct — it is resolved by name through the tool registry —
// keeping ToolDefinition serializable for catalog/admin listing.
type ToolDefinition struct {
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Category        string          `json:"category"`
	Author          string          `json:"author,omitempty"`
	Description     string          `json:"description,omitempty"`
	ParameterSchema json.RawMessage `json:"parameter_schema,omitempty"`
	Config          ToolConfig      `json:"config"`
}
