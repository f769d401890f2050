package logging

import (
	"math"
	"strings"
	"sync"
)

// ProgressSampler throttles progress markers per operation. A marker is let
// through only when its percent reaches a multiple of the interval above the
// last multiple emitted for the same operation, so repeated, regressing, or
// out-of-order values stay quiet.
type ProgressSampler struct {
	mu       sync.Mutex
	interval float64
	last     map[string]int
}

// NewProgressSampler constructs a sampler for the given percent interval
// (default 1).
func NewProgressSampler(interval float64) *ProgressSampler {
	if interval <= 0 {
		interval = 1
	}
	return &ProgressSampler{interval: interval, last: make(map[string]int)}
}

// ShouldLog reports whether the marker for operation at percent should be
// shown. Negative percentages are never shown.
func (s *ProgressSampler) ShouldLog(operation string, percent float64) bool {
	if s == nil {
		return true
	}
	if percent < 0 || math.IsNaN(percent) {
		return false
	}
	if percent > 100 {
		percent = 100
	}
	operation = strings.TrimSpace(operation)
	bucket := int(math.Floor(percent/s.interval + 1e-9))

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket <= s.last[operation] {
		return false
	}
	s.last[operation] = bucket
	return true
}

// Reset clears the per-operation state (e.g. when a new attempt starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.last = make(map[string]int)
	s.mu.Unlock()
}
