package usage

import (
	"sync"
	"time"

	"github.com/madfam-io/penny/pkg/models"
)

// dayKey truncates t to its UTC calendar day for per-tenant-per-day
// aggregation.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TenantRecorder maintains in-memory per-tenant rolling counters over
// UsageRecords, per spec.md §4.8. Recording never blocks on, or fails, a
// user-visible operation: Record swallows malformed input rather than
// returning an error the caller would have to handle inline.
type TenantRecorder struct {
	mu     sync.RWMutex
	daily  map[string]map[models.UsageMetric]float64 // "tenantID:day" -> metric -> total
	recent []models.UsageRecord
	maxLen int
}

// NewTenantRecorder creates an empty recorder. maxLen bounds the in-memory
// recent-records ring; zero selects a sensible default.
func NewTenantRecorder(maxLen int) *TenantRecorder {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &TenantRecorder{
		daily:  make(map[string]map[models.UsageMetric]float64),
		maxLen: maxLen,
	}
}

// Record appends a UsageRecord and folds it into the tenant's daily totals.
func (r *TenantRecorder) Record(rec models.UsageRecord) {
	if rec.TenantID == "" {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.TenantID + ":" + dayKey(rec.Timestamp)
	totals := r.daily[key]
	if totals == nil {
		totals = make(map[models.UsageMetric]float64)
		r.daily[key] = totals
	}
	totals[rec.Metric] += rec.Value

	r.recent = append(r.recent, rec)
	if len(r.recent) > r.maxLen {
		r.recent = r.recent[len(r.recent)-r.maxLen:]
	}
}

// DailyTotal returns the aggregated value for metric on the tenant's day
// containing at.
func (r *TenantRecorder) DailyTotal(tenantID string, metric models.UsageMetric, at time.Time) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := tenantID + ":" + dayKey(at)
	totals := r.daily[key]
	if totals == nil {
		return 0
	}
	return totals[metric]
}

// Recent returns the most recent records, newest last, capped at limit.
func (r *TenantRecorder) Recent(limit int) []models.UsageRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.recent) {
		limit = len(r.recent)
	}
	start := len(r.recent) - limit
	out := make([]models.UsageRecord, limit)
	copy(out, r.recent[start:])
	return out
}
