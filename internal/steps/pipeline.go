// Package steps drives a single plan step through apply, validation, the quality gate and the
// regression loop.
package steps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"patchwarden/internal/adapters"
	"patchwarden/internal/audit"
	"patchwarden/internal/gate"
	"patchwarden/internal/guardrails"
	"patchwarden/internal/logging"
	"patchwarden/internal/validators"
)

// QualityGate is the gate as seen by the pipeline.
type QualityGate interface {
	Enabled() bool
	Run(ctx context.Context, cwd string) (gate.Verdict, error)
}

// Recorder receives pipeline counters.
type Recorder interface {
	ObserveTurn(purpose string)
	ObserveStep(outcome string)
	ObserveRegression()
}

// Config wires the collaborators of a Pipeline.
type Config struct {
	WorkDir          string
	ExcludedPrefixes []string

	Executor         adapters.Executor
	ApplyFingerprint adapters.Fingerprint
	FixFingerprint   adapters.Fingerprint
	Timeout          time.Duration

	MaxThreadAttempts     int
	MaxRegressionAttempts int
	MaxValidationRetries  int

	// Validator may be nil, which skips step review.
	Validator   validators.StepValidator
	Gate        QualityGate
	Snapshotter guardrails.Snapshotter
	Baseline    guardrails.BaselineReader

	Audit    audit.Sink
	Recorder Recorder
	Logger   *zap.Logger
	// Actor labels audit events; defaults to "step".
	Actor string
}

// Status is the final state of a step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusAborted Status = "aborted"
)

// Result summarizes one step run.
type Result struct {
	Step               Step
	Status             Status
	Err                error
	RegressionAttempts int
	Turns              int
	FilesChanged       []string
	// Before holds the content FilesChanged had before the step, for rollback.
	Before       guardrails.Snapshot
	Summary      string
	ArtifactsDir string
}

// Pipeline runs steps sequentially against one working directory. It is not safe for
// concurrent use.
type Pipeline struct {
	cfg Config
	log *zap.Logger
}

// New validates cfg and returns a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.WorkDir == "" {
		return nil, errors.New("workdir is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if cfg.Snapshotter == nil {
		cfg.Snapshotter = guardrails.FileSnapshotter{}
	}
	if cfg.MaxValidationRetries <= 0 {
		cfg.MaxValidationRetries = 1
	}
	if cfg.Actor == "" {
		cfg.Actor = "step"
	}
	cfg.Audit = audit.OrNop(cfg.Audit)
	return &Pipeline{cfg: cfg, log: logging.OrNop(cfg.Logger)}, nil
}

// Run executes step to completion. artifactsDir receives per-turn artifacts.
func (p *Pipeline) Run(ctx context.Context, step Step, artifactsDir string) Result {
	st := newState(p.cfg.MaxThreadAttempts)
	log := p.log.With(zap.Int("step", step.Index), zap.Int("steps", step.Total))
	log.Info("step started", zap.String("instruction", truncate(step.Instruction, 200)))
	p.cfg.Audit.Emit(p.cfg.Actor, "step_started", map[string]any{
		"step":        step.Index,
		"steps":       step.Total,
		"instruction": step.Instruction,
		"files":       step.Files,
	})

	res := p.run(ctx, st, step, artifactsDir, log)
	res.Step = step
	res.Turns = st.Turns
	res.RegressionAttempts = st.RegressionAttempts
	res.FilesChanged = append([]string(nil), st.Touched...)
	res.Before = st.touchedBefore()
	res.ArtifactsDir = artifactsDir

	payload := map[string]any{
		"step":                step.Index,
		"status":              string(res.Status),
		"turns":               res.Turns,
		"regression_attempts": res.RegressionAttempts,
		"files_changed":       res.FilesChanged,
	}
	if res.Err != nil {
		payload["error"] = guardrails.SanitizeErrorForJSON(res.Err)
		log.Warn("step aborted", zap.Error(res.Err), zap.Int("turns", res.Turns), zap.Int("regression_attempts", res.RegressionAttempts))
	} else {
		log.Info("step succeeded", zap.Int("turns", res.Turns), zap.Int("regression_attempts", res.RegressionAttempts))
	}
	p.cfg.Audit.Emit(p.cfg.Actor, "step_finished", payload)
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.ObserveStep(string(res.Status))
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, st *State, step Step, artifactsDir string, log *zap.Logger) Result {
	mode := adapters.ModeApply
	for {
		if err := ctx.Err(); err != nil {
			return aborted(err)
		}
		turnDir := ""
		if artifactsDir != "" {
			turnDir = filepath.Join(artifactsDir, fmt.Sprintf("turn-%02d-%s", st.Turns+1, mode))
		}

		var proceed Proceed
		switch o := p.execute(ctx, st, step, mode, turnDir).(type) {
		case Abort:
			return aborted(o)
		case Retry:
			p.retry(st, mode, "execute", ErrExecutorFailure, o.Reason, log)
			continue
		case Proceed:
			proceed = o
		}

		switch o := p.validateExecution(ctx, st, proceed, turnDir).(type) {
		case Abort:
			return aborted(o)
		case Retry:
			p.retry(st, mode, "validate_execution", ErrExecutorFailure, o.Reason, log)
			continue
		case Proceed:
			proceed = o
		}

		if mode == adapters.ModeApply {
			switch o := p.validateStep(ctx, st, step, proceed, turnDir).(type) {
			case Abort:
				return aborted(o)
			case Retry:
				p.retry(st, mode, "validate_step", ErrValidationFailure, o.Reason, log)
				continue
			case Proceed:
			}
		}

		verdict, err := p.runGate(ctx, log)
		if err != nil {
			return aborted(err)
		}
		if verdict.Passed {
			return Result{Status: StatusSuccess, Summary: proceed.Execution.Summary}
		}

		if p.cfg.MaxRegressionAttempts >= 0 && st.RegressionAttempts >= p.cfg.MaxRegressionAttempts {
			return aborted(Abort{
				Reason: fmt.Sprintf("quality gate still failing after %d regression attempts: %s", st.RegressionAttempts, verdict.AdditionalContext),
				Err:    fmt.Errorf("%w: %w", ErrRegressionCapExceeded, ErrQualityGateFailure),
			})
		}
		st.RegressionAttempts++
		if p.cfg.Recorder != nil {
			p.cfg.Recorder.ObserveRegression()
		}
		log.Info("regression loop", zap.Int("regression_attempt", st.RegressionAttempts), zap.String("stage", string(verdict.FailedStage)))
		p.cfg.Audit.Emit(p.cfg.Actor, "regression_started", map[string]any{
			"step":               step.Index,
			"regression_attempt": st.RegressionAttempts,
			"failed_stage":       string(verdict.FailedStage),
		})
		st.LastFailure = ErrQualityGateFailure
		st.setContext(verdict.AdditionalContext)
		mode = adapters.ModeFixRegression
	}
}

func (p *Pipeline) retry(st *State, mode adapters.Mode, phase string, class error, reason string, log *zap.Logger) {
	st.LastFailure = class
	log.Info("step retry", zap.String("phase", phase), zap.String("mode", string(mode)), zap.String("reason", truncate(reason, 300)))
	p.cfg.Audit.Emit(p.cfg.Actor, "step_retry", map[string]any{
		"phase":  phase,
		"mode":   string(mode),
		"reason": reason,
	})
	st.addContext(reason)
}

func aborted(err error) Result {
	return Result{Status: StatusAborted, Err: err}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
