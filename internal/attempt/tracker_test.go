package attempt

import (
	"math"
	"testing"
)

func TestTrackerBounded(t *testing.T) {
	for _, max := range []int{1, 2, 5, 17} {
		tr := NewTracker(max)
		for i := 1; i <= max; i++ {
			if tr.IsExhausted() {
				t.Fatalf("max=%d: exhausted before call %d", max, i)
			}
			if !tr.RecordAttempt() {
				t.Fatalf("max=%d: call %d should be within budget", max, i)
			}
		}
		if !tr.IsExhausted() {
			t.Fatalf("max=%d: expected exhausted after %d calls", max, max)
		}
		for i := 0; i < 5; i++ {
			if tr.RecordAttempt() {
				t.Fatalf("max=%d: call beyond budget returned true", max)
			}
		}
		if got := tr.Count(); got != max+5 {
			t.Fatalf("max=%d: count = %d, want %d", max, got, max+5)
		}
	}
}

func TestTrackerUnbounded(t *testing.T) {
	for _, max := range []int{0, -1, -100} {
		tr := NewTracker(max)
		for i := 0; i < 1000; i++ {
			if !tr.RecordAttempt() {
				t.Fatalf("max=%d: call %d returned false", max, i)
			}
			if tr.IsExhausted() {
				t.Fatalf("max=%d: exhausted after %d calls", max, i)
			}
		}
	}
}

func TestNewTrackerFromFloat(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := NewTrackerFromFloat(bad); err == nil {
			t.Errorf("expected error for %v", bad)
		}
	}
	tr, err := NewTrackerFromFloat(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Max() != 3 {
		t.Fatalf("max = %d, want 3", tr.Max())
	}
}
