package routing

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/madfam-io/penny/internal/agent"
	"github.com/madfam-io/penny/pkg/models"
)

// signals are the per-request values a tenant RoutingPolicy's rules
// condition on. They're cheap heuristics derived from the request itself —
// the same class of signal the teacher's HeuristicClassifier already
// computes for its own tag-based rules, just exposed as typed values so a
// policy rule can compare against them with eq/gt/lt/contains/matches.
type signals struct {
	complexity float64 // rough 0-100+ score: prompt length plus a "reasoning" bonus
	capability string  // "tools", "vision", or "text"
	cost       float64 // requested output budget, tokens (a cost proxy absent real pricing input)
	latency    float64 // same token budget, read as an expected-latency proxy
	language   string  // "en" or "other", an ASCII-content heuristic
}

func computeSignals(req *agent.CompletionRequest, tags []string) signals {
	content := lastUserContent(req)

	s := signals{
		complexity: float64(len(strings.Fields(content))),
		capability: "text",
		cost:       float64(req.MaxTokens),
		latency:    float64(req.MaxTokens),
		language:   "en",
	}
	if containsTag(tags, "reasoning") {
		s.complexity += 50
	}
	if containsTag(tags, "quick") {
		s.complexity = s.complexity / 2
	}

	if len(req.Tools) > 0 {
		s.capability = "tools"
	} else if hasImageAttachment(req) {
		s.capability = "vision"
	} else if containsTag(tags, "code") {
		s.capability = "code"
	}

	for _, r := range content {
		if r > 127 {
			s.language = "other"
			break
		}
	}

	return s
}

func hasImageAttachment(req *agent.CompletionRequest) bool {
	for _, msg := range req.Messages {
		for _, a := range msg.Attachments {
			if strings.HasPrefix(strings.ToLower(a.MimeType), "image/") {
				return true
			}
		}
	}
	return false
}

// EvaluatePolicy applies a tenant's RoutingPolicy to a request, in the
// order spec.md §4.2 step 1-2 describes: evaluate Rules in ascending
// priority, first match wins; otherwise fall back to request.Model if set,
// else the policy's DefaultModel. Returns ("", false) when policy is nil or
// yields nothing (the caller then falls through to the Router's own
// defaults).
func EvaluatePolicy(policy *models.RoutingPolicy, req *agent.CompletionRequest, classifier Classifier) (string, bool) {
	if policy == nil {
		return "", false
	}

	var tags []string
	if classifier != nil {
		tags = classifier.Classify(req)
	}
	sig := computeSignals(req, tags)

	rules := append([]models.RoutingRule(nil), policy.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		if rule.Model == "" {
			continue
		}
		if evaluateCondition(rule, sig) {
			return rule.Model, true
		}
	}

	if req != nil && req.Model != "" {
		return req.Model, true
	}
	if policy.DefaultModel != "" {
		return policy.DefaultModel, true
	}
	for _, fallback := range policy.FallbackModels {
		if fallback != "" {
			return fallback, true
		}
	}
	return "", false
}

func evaluateCondition(rule models.RoutingRule, sig signals) bool {
	switch strings.ToLower(strings.TrimSpace(rule.Condition)) {
	case "complexity":
		return evaluateNumeric(sig.complexity, rule.Operator, rule.Value)
	case "cost":
		return evaluateNumeric(sig.cost, rule.Operator, rule.Value)
	case "latency":
		return evaluateNumeric(sig.latency, rule.Operator, rule.Value)
	case "capability":
		return evaluateString(sig.capability, rule.Operator, rule.Value)
	case "language":
		return evaluateString(sig.language, rule.Operator, rule.Value)
	default:
		return false
	}
}

func evaluateNumeric(actual float64, operator, value string) bool {
	want, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(operator)) {
	case "eq":
		return actual == want
	case "gt":
		return actual > want
	case "lt":
		return actual < want
	default:
		return false
	}
}

func evaluateString(actual, operator, value string) bool {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(operator)) {
	case "eq":
		return strings.EqualFold(actual, value)
	case "contains":
		return strings.Contains(strings.ToLower(actual), strings.ToLower(value))
	case "matches":
		re, err := regexp.Compile(value)
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	default:
		return false
	}
}
