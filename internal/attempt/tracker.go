// Package attempt bounds the number of agent turns a single unit of work may consume.
package attempt

import (
	"fmt"
	"math"
)

// Tracker counts agent turns against a fixed budget. A non-positive budget is unbounded.
// Counting is 1-indexed: the first RecordAttempt moves the count to 1.
type Tracker struct {
	max   int
	count int
}

// NewTracker returns a tracker with the given budget.
func NewTracker(maxAttempts int) *Tracker {
	return &Tracker{max: maxAttempts}
}

// NewTrackerFromFloat accepts budgets decoded from loosely typed sources (JSON numbers, env).
// NaN and infinities are rejected.
func NewTrackerFromFloat(maxAttempts float64) (*Tracker, error) {
	if math.IsNaN(maxAttempts) || math.IsInf(maxAttempts, 0) {
		return nil, fmt.Errorf("max attempts must be a finite number, got %v", maxAttempts)
	}
	return NewTracker(int(maxAttempts)), nil
}

// RecordAttempt consumes one attempt and reports whether it is still within budget.
func (t *Tracker) RecordAttempt() bool {
	t.count++
	if t.max <= 0 {
		return true
	}
	return t.count <= t.max
}

// IsExhausted reports whether the budget has already been consumed.
func (t *Tracker) IsExhausted() bool {
	if t.max <= 0 {
		return false
	}
	return t.count >= t.max
}

// Count returns the number of recorded attempts.
func (t *Tracker) Count() int {
	return t.count
}

// Max returns the configured budget.
func (t *Tracker) Max() int {
	return t.max
}
