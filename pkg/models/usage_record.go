package models

import "time"

// UsageMetric names what a UsageRecord counts.
type UsageMetric string

const (
	MetricTokensIn      UsageMetric = "tokens_in"
	MetricTokensOut     UsageMetric = "tokens_out"
	MetricRequests      UsageMetric = "requests"
	MetricLatencyMs     UsageMetric = "latency_ms"
	MetricToolExecution UsageMetric = "tool_execution"
	MetricCost          UsageMetric = "cost"
)

// UsageRecord is an append-only observation emitted by the Usage Recorder
// (C8). Records refer to a principal/tenant by ID but never prevent their
// deletion — this is a weak reference, not a foreign key.
type UsageRecord struct {
	TenantID  string         `json:"tenant_id"`
	Metric    UsageMetric    `json:"metric"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
