package observability

import (
	"testing"
	"time"
)

func TestCallStats_Counts(t *testing.T) {
	s := NewCallStats(100)

	s.Observe("queue.push", 2*time.Millisecond, false)
	s.Observe("queue.push", 3*time.Millisecond, false)
	s.Observe("queue.push", 4*time.Millisecond, true)

	if got := s.Calls("queue.push"); got != 3 {
		t.Errorf("Calls = %d, want 3", got)
	}
	if got := s.Errors("queue.push"); got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
	if got := s.Calls("queue.lease"); got != 0 {
		t.Errorf("Calls for unseen method = %d, want 0", got)
	}
}

func TestCallStats_Latency(t *testing.T) {
	s := NewCallStats(100)
	for i := 1; i <= 10; i++ {
		s.Observe("memory.search", time.Duration(i)*time.Millisecond, false)
	}

	sum := s.Latency("memory.search")
	if sum.Count != 10 {
		t.Fatalf("Count = %d, want 10", sum.Count)
	}
	if sum.Max != 10 {
		t.Errorf("Max = %v, want 10", sum.Max)
	}
	if sum.Mean != 5.5 {
		t.Errorf("Mean = %v, want 5.5", sum.Mean)
	}
}

func TestCallStats_SampleCap(t *testing.T) {
	s := NewCallStats(5)
	for i := 0; i < 20; i++ {
		s.Observe("m", time.Millisecond, false)
	}
	if sum := s.Latency("m"); sum.Count != 5 {
		t.Errorf("retained %d samples, want 5", sum.Count)
	}
	if got := s.Calls("m"); got != 20 {
		t.Errorf("Calls = %d, want 20 (cap applies to samples only)", got)
	}
}

func TestCallStats_Snapshot(t *testing.T) {
	s := NewCallStats(10)
	s.Observe("a", time.Millisecond, false)
	s.Observe("b", time.Millisecond, false)
	s.Observe("b", time.Millisecond, false)

	snap := s.Snapshot()
	if snap["a"] != 1 || snap["b"] != 2 {
		t.Errorf("snapshot = %v", snap)
	}

	// Mutating the snapshot must not affect the collector.
	snap["a"] = 99
	if s.Calls("a") != 1 {
		t.Error("snapshot aliases internal state")
	}
}
