package models

// ProviderCapabilities summarizes what a provider's models, as a group, can
// do — used by the Model Router (C2) to shortlist candidates before per-model
// capability checks.
type ProviderCapabilities struct {
	Chat      bool `json:"chat"`
	Tools     bool `json:"tools"`
	Vision    bool `json:"vision"`
	Streaming bool `json:"streaming"`
}

// ProviderPricing is list price per 1,000 tokens, used for C2's
// estimated-cost routing heuristic.
type ProviderPricing struct {
	InputPer1k  float64 `json:"input_per_1k"`
	OutputPer1k float64 `json:"output_per_1k"`
}

// ProviderDescriptor is the read-only, boot-time registration record for one
// upstream LLM provider. Availability is a live check, not a static field —
// IsAvailable is populated by the adapter at registration time rather than
// serialized, since it reflects current upstream health.
type ProviderDescriptor struct {
	Name         string               `json:"name"`
	Kind         string               `json:"kind"`
	Models       []string             `json:"models"`
	Capabilities ProviderCapabilities `json:"capabilities"`
	Pricing      ProviderPricing      `json:"pricing"`

	// IsAvailable reports current upstream reachability. Nil means the
	// descriptor carries no live health check and should be treated as
	// available.
	IsAvailable func() bool `json:"-"`
}

// Available reports provider availability, defaulting to true when no health
// check function is attached.
func (d *ProviderDescriptor) Available() bool {
	if d.IsAvailable == nil {
		return true
	}
	return d.IsAvailable()
}
