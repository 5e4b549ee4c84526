package ratelimit

import (
	"sync"
	"time"

	"github.com/madfam-io/penny/pkg/models"
)

// ErrQuotaExceeded is the retryable admission failure C3 surfaces to callers
// (spec.md §4.3's RATE_LIMIT_EXCEEDED).
type ErrQuotaExceeded struct {
	Key string
}

func (e *ErrQuotaExceeded) Error() string {
	return "rate limit exceeded for " + e.Key
}

// quotaBucket pairs a token bucket with the wall-clock time it was last
// touched, so QuotaGate can expire idle keys.
type quotaBucket struct {
	bucket     *Bucket
	windowSec  int
	lastUsedAt time.Time
}

// QuotaGate is C3's token-bucket admission control, keyed by
// (tenantID, scope, principalID) per spec.md §4.3. Each tenant's
// models.QuotaLimit for a metric becomes that key's bucket capacity/refill
// rate; tenants without an explicit limit for a metric fall back to the
// gate's default. Admission is synchronous and in-process — no distributed
// counter backend exists in this pack, so every key is local state that
// resets on restart, which spec.md accepts as a fallback behavior.
type QuotaGate struct {
	mu      sync.Mutex
	buckets map[string]*quotaBucket
	fallback Config
}

// NewQuotaGate creates a gate that admits at fallbackConfig's rate for any
// key whose tenant has no explicit QuotaLimit for the metric being checked.
func NewQuotaGate(fallbackConfig Config) *QuotaGate {
	return &QuotaGate{
		buckets:  make(map[string]*quotaBucket),
		fallback: fallbackConfig,
	}
}

// Key builds the admission key for a (tenant, scope, principal) triple.
// scope is typically a tool name or an API scope; principalID may be empty
// to rate-limit at tenant granularity only.
func Key(tenantID, scope, principalID string) string {
	if principalID == "" {
		return CompositeKey("tenant", tenantID, "scope", scope)
	}
	return CompositeKey("tenant", tenantID, "scope", scope, "principal", principalID)
}

// Allow admits or rejects a single unit of work for key, sized by tenant's
// QuotaLimit for metric (or the gate's fallback when the tenant has none).
func (g *QuotaGate) Allow(tenant *models.Tenant, metric, scope, principalID string) error {
	if !g.fallback.Enabled {
		return nil
	}

	key := Key(tenantFor(tenant), scope, principalID)
	cfg := g.configFor(tenant, metric)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()

	entry, ok := g.buckets[key]
	if !ok {
		entry = &quotaBucket{bucket: NewBucket(cfg), windowSec: cfg.windowSec()}
		g.buckets[key] = entry
	}
	entry.lastUsedAt = time.Now()

	if !entry.bucket.Allow() {
		return &ErrQuotaExceeded{Key: key}
	}
	return nil
}

// configFor derives bucket parameters from the tenant's configured
// QuotaLimit for metric, falling back to the gate's default.
func (g *QuotaGate) configFor(tenant *models.Tenant, metric string) Config {
	if tenant == nil {
		return g.fallback
	}
	limit, ok := tenant.Settings.QuotaLimits[metric]
	if !ok || limit.Limit <= 0 || limit.WindowSec <= 0 {
		return g.fallback
	}
	rps := float64(limit.Limit) / float64(limit.WindowSec)
	return Config{
		RequestsPerSecond: rps,
		BurstSize:         int(limit.Limit),
		Enabled:           true,
	}
}

// sweepLocked drops buckets idle for more than 2*windowSec, per spec.md
// §4.3's key-expiry rule. Must be called with mu held.
func (g *QuotaGate) sweepLocked() {
	now := time.Now()
	for key, entry := range g.buckets {
		ttl := 2 * time.Duration(entry.windowSec) * time.Second
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		if now.Sub(entry.lastUsedAt) > ttl {
			delete(g.buckets, key)
		}
	}
}

func tenantFor(tenant *models.Tenant) string {
	if tenant == nil {
		return "_unknown"
	}
	return tenant.ID
}

func (c Config) windowSec() int {
	if c.RequestsPerSecond <= 0 {
		return 60
	}
	sec := float64(c.BurstSize) / c.RequestsPerSecond
	if sec < 1 {
		return 1
	}
	return int(sec)
}
