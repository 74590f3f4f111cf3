package metrics

import (
	"sync"
	"sync/atomic"
)

// outcomeStats holds a total plus per-outcome counters. Kept simple and
// thread-safe for use from handlers, middleware and exposition.
type outcomeStats struct {
	total uint64
	mu    sync.Mutex
	by    map[string]uint64
}

func (s *outcomeStats) inc(outcome string) {
	atomic.AddUint64(&s.total, 1)
	s.mu.Lock()
	if s.by == nil {
		s.by = make(map[string]uint64)
	}
	s.by[outcome]++
	s.mu.Unlock()
}

func (s *outcomeStats) snapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&s.total)
	s.mu.Lock()
	defer s.mu.Unlock()
	by = make(map[string]uint64, len(s.by))
	for k, v := range s.by {
		by[k] = v
	}
	return total, by
}

var (
	rateLimit   outcomeStats
	validations outcomeStats
	dryRuns     outcomeStats
)

// IncRateLimitDrop counts a 429 for the given route prefix. Use prefix
// "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rateLimit.inc(prefix)
}

// RateLimitSnapshot returns a copy of the drop counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	return rateLimit.snapshot()
}

// IncValidation counts one validation request by outcome: "ok",
// "schema_errors" or "compile_errors".
func IncValidation(outcome string) {
	validations.inc(outcome)
}

// ValidationSnapshot returns a copy of the validation counters.
func ValidationSnapshot() (total uint64, by map[string]uint64) {
	return validations.snapshot()
}

// IncDryRun counts one dry run by overall severity.
func IncDryRun(severity string) {
	dryRuns.inc(severity)
}

// DryRunSnapshot returns a copy of the dry-run counters.
func DryRunSnapshot() (total uint64, by map[string]uint64) {
	return dryRuns.snapshot()
}
