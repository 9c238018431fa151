package observability

import (
	"sort"
	"sync"
	"time"
)

// CallStats collects per-method invocation counts and latencies in memory.
// It exists for operational visibility (logs, the health endpoint); it is
// not an export pipeline.
type CallStats struct {
	mu        sync.RWMutex
	calls     map[string]int64 // method → invocations
	errors    map[string]int64 // method → failed invocations
	latencies map[string][]float64
	maxSample int
}

// NewCallStats creates a collector keeping at most maxSample latency
// samples per method (older samples are dropped).
func NewCallStats(maxSample int) *CallStats {
	if maxSample <= 0 {
		maxSample = 1000
	}
	return &CallStats{
		calls:     make(map[string]int64),
		errors:    make(map[string]int64),
		latencies: make(map[string][]float64),
		maxSample: maxSample,
	}
}

// Observe records one invocation of method.
func (s *CallStats) Observe(method string, dur time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[method]++
	if failed {
		s.errors[method]++
	}

	samples := s.latencies[method]
	if len(samples) >= s.maxSample {
		copy(samples, samples[1:])
		samples[len(samples)-1] = float64(dur.Milliseconds())
	} else {
		samples = append(samples, float64(dur.Milliseconds()))
	}
	s.latencies[method] = samples
}

// Calls returns the invocation count for a method.
func (s *CallStats) Calls(method string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

// Errors returns the failed invocation count for a method.
func (s *CallStats) Errors(method string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[method]
}

// LatencySummary aggregates recorded latencies for one method.
type LatencySummary struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	Max   float64 `json:"max_ms"`
}

// Latency summarizes the retained latency samples for a method.
func (s *CallStats) Latency(method string) LatencySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples := s.latencies[method]
	if len(samples) == 0 {
		return LatencySummary{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return LatencySummary{
		Count: len(sorted),
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		Max:   sorted[len(sorted)-1],
	}
}

// Snapshot returns a copy of the per-method invocation counts.
func (s *CallStats) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]int64, len(s.calls))
	for k, v := range s.calls {
		snap[k] = v
	}
	return snap
}

// percentile reads the p-th percentile from sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
