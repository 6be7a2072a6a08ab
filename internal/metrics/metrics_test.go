package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCounters(t *testing.T) {
	p := New()
	p.ObserveTurn("apply")
	p.ObserveTurn("apply")
	p.ObserveStage("build", false, 2*time.Second)
	p.ObservePlan("security", "success")
	p.ObserveRegression()

	if got := testutil.ToFloat64(p.AgentTurns.WithLabelValues("apply")); got != 2 {
		t.Fatalf("apply turns = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.GateStageRuns.WithLabelValues("build", "fail")); got != 1 {
		t.Fatalf("build failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.RegressionAttempts); got != 1 {
		t.Fatalf("regressions = %v, want 1", got)
	}
}

func TestNilPipelineIsSafe(t *testing.T) {
	var p *Pipeline
	p.ObserveTurn("plan")
	p.ObserveStep("success")
	p.ObserveStage("test", true, time.Second)
	p.ObserveDroppedEvent()
	if err := p.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Fatalf("nil WriteTextfile: %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	p := New()
	p.ObserveStep("success")
	path := filepath.Join(t.TempDir(), "textfile", "patchwarden.prom")
	if err := p.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), `patchwarden_step_outcomes_total{outcome="success"} 1`) {
		t.Fatalf("textfile missing step outcome:\n%s", data)
	}
}
