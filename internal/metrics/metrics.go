// Package metrics exposes pipeline counters as Prometheus metrics.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline holds the counters for one orchestrator process. All methods are safe on a nil
// receiver.
//
// Metrics:
//   - patchwarden_agent_turns_total{purpose}
//   - patchwarden_step_outcomes_total{outcome}
//   - patchwarden_regression_attempts_total
//   - patchwarden_gate_stage_runs_total{stage,result}
//   - patchwarden_gate_stage_duration_seconds{stage}
//   - patchwarden_plan_outcomes_total{auditor,outcome}
//   - patchwarden_audit_events_dropped_total
type Pipeline struct {
	registry *prometheus.Registry

	AgentTurns         *prometheus.CounterVec
	StepOutcomes       *prometheus.CounterVec
	RegressionAttempts prometheus.Counter
	GateStageRuns      *prometheus.CounterVec
	GateStageDuration  *prometheus.HistogramVec
	PlanOutcomes       *prometheus.CounterVec
	AuditEventsDropped prometheus.Counter
}

// New registers the pipeline metrics on a private registry.
func New() *Pipeline {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Pipeline{
		registry: reg,
		AgentTurns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchwarden_agent_turns_total",
			Help: "Agent executor turns by purpose.",
		}, []string{"purpose"}),
		StepOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchwarden_step_outcomes_total",
			Help: "Plan steps by final outcome.",
		}, []string{"outcome"}),
		RegressionAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "patchwarden_regression_attempts_total",
			Help: "Regression loop iterations started.",
		}),
		GateStageRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchwarden_gate_stage_runs_total",
			Help: "Quality gate stage executions by result.",
		}, []string{"stage", "result"}),
		GateStageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "patchwarden_gate_stage_duration_seconds",
			Help:    "Quality gate stage duration in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"stage"}),
		PlanOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "patchwarden_plan_outcomes_total",
			Help: "Auditor turns by outcome.",
		}, []string{"auditor", "outcome"}),
		AuditEventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "patchwarden_audit_events_dropped_total",
			Help: "Audit events dropped because the sink buffer was full.",
		}),
	}
}

// Registry returns the gatherer holding the pipeline metrics.
func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Pipeline) ObserveTurn(purpose string) {
	if p == nil {
		return
	}
	p.AgentTurns.WithLabelValues(purpose).Inc()
}

func (p *Pipeline) ObserveStep(outcome string) {
	if p == nil {
		return
	}
	p.StepOutcomes.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) ObserveRegression() {
	if p == nil {
		return
	}
	p.RegressionAttempts.Inc()
}

// ObserveStage records one quality gate stage execution.
func (p *Pipeline) ObserveStage(stage string, passed bool, d time.Duration) {
	if p == nil {
		return
	}
	result := "fail"
	if passed {
		result = "pass"
	}
	p.GateStageRuns.WithLabelValues(stage, result).Inc()
	p.GateStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Pipeline) ObservePlan(auditor, outcome string) {
	if p == nil {
		return
	}
	p.PlanOutcomes.WithLabelValues(auditor, outcome).Inc()
}

func (p *Pipeline) ObserveDroppedEvent() {
	if p == nil {
		return
	}
	p.AuditEventsDropped.Inc()
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (p *Pipeline) WriteTextfile(path string) error {
	if p == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
