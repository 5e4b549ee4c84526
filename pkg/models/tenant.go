package models

import "time"

// Tenant is the top-level isolation boundary: every request, quota, and
// usage record is scoped to exactly one Tenant. Tenants are long-lived and
// mutated only through the admin path — never owned or modified by an
// in-flight request.
type Tenant struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Active    bool           `json:"active"`
	Settings  TenantSettings `json:"settings"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TenantSettings bounds what a tenant's requests are allowed to do.
type TenantSettings struct {
	// ModelWhitelist restricts completions to these model IDs. Empty means
	// no restriction (all catalog models are eligible).
	ModelWhitelist []string `json:"model_whitelist,omitempty"`

	// ToolAllowlist restricts which registered tools the Message Processor
	// (C7) may resolve for this tenant. Empty means no restriction (every
	// registered tool is eligible).
	ToolAllowlist []string `json:"tool_allowlist,omitempty"`

	// FeatureFlags gates optional behavior (e.g. "sandbox_runner",
	// "extended_thinking") on a per-tenant basis.
	FeatureFlags map[string]bool `json:"feature_flags,omitempty"`

	// QuotaLimits bounds resource consumption per window; keyed by metric
	// name (matches UsageRecord.Metric).
	QuotaLimits map[string]QuotaLimit `json:"quota_limits,omitempty"`

	// RoutingPolicy overrides the system default model-selection policy for
	// this tenant (C2's "tenant routing policy", spec.md §4.2 step 1). Nil
	// means the tenant has no policy of its own and the system default
	// applies.
	RoutingPolicy *RoutingPolicy `json:"routing_policy,omitempty"`
}

// RoutingPolicy is a tenant's model-selection policy: a default model, an
// ordered fallback chain, and a set of conditional overrides evaluated in
// ascending Priority order.
type RoutingPolicy struct {
	DefaultModel   string        `json:"default_model"`
	FallbackModels []string      `json:"fallback_models,omitempty"`
	Rules          []RoutingRule `json:"rules,omitempty"`
}

// RoutingRule conditionally overrides the selected model. Condition is one
// of "complexity", "capability", "cost", "latency", "language"; Operator is
// one of "eq", "gt", "lt", "contains", "matches". Rules are evaluated in
// ascending Priority order and the first match wins.
type RoutingRule struct {
	Priority  int    `json:"priority"`
	Condition string `json:"condition"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
	Model     string `json:"model"`
}

// QuotaLimit caps a single metric over a rolling window.
type QuotaLimit struct {
	Limit     int64 `json:"limit"`
	WindowSec int   `json:"window_sec"`
}

// ModelAllowed reports whether modelID is permitted for this tenant. An
// empty whitelist permits every model.
func (t *Tenant) ModelAllowed(modelID string) bool {
	if len(t.Settings.ModelWhitelist) == 0 {
		return true
	}
	for _, m := range t.Settings.ModelWhitelist {
		if m == modelID {
			return true
		}
	}
	return false
}

// FeatureEnabled reports whether the named feature flag is set for this
// tenant. Unset flags default to false.
func (t *Tenant) FeatureEnabled(name string) bool {
	return t.Settings.FeatureFlags[name]
}

// ToolAllowed reports whether toolName is permitted for this tenant. An
// empty allowlist permits every registered tool.
func (t *Tenant) ToolAllowed(toolName string) bool {
	if len(t.Settings.ToolAllowlist) == 0 {
		return true
	}
	for _, name := range t.Settings.ToolAllowlist {
		if name == toolName {
			return true
		}
	}
	return false
}
