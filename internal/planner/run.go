// Package planner obtains a plan for an auditor, validates it and runs its steps in order.
package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"patchwarden/internal/adapters"
	"patchwarden/internal/audit"
	"patchwarden/internal/guardrails"
	"patchwarden/internal/logging"
	"patchwarden/internal/steps"
	"patchwarden/internal/validators"
)

// Status classifies an auditor turn for the audit loop.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoPlan  Status = "no_plan"
	StatusFailed  Status = "failed"
)

// StepRunner runs one decomposed step.
type StepRunner interface {
	Run(ctx context.Context, step steps.Step, artifactsDir string) steps.Result
}

// Committer records the changes of a completed plan. Only paths are staged.
type Committer interface {
	Commit(ctx context.Context, message string, paths []string) (string, error)
}

// Recorder receives plan-level counters.
type Recorder interface {
	ObserveTurn(purpose string)
	ObservePlan(auditor, outcome string)
}

// Config wires a plan Pipeline.
type Config struct {
	WorkDir          string
	ExcludedPrefixes []string
	Executor         adapters.Executor
	Fingerprint      adapters.Fingerprint
	Timeout          time.Duration
	// Validator may be nil, which skips plan review.
	Validator validators.PlanValidator
	Steps     StepRunner
	// Committer may be nil, which leaves changes uncommitted.
	Committer Committer

	Audit    audit.Sink
	Recorder Recorder
	Logger   *zap.Logger
}

// Outcome is the result of one auditor turn.
type Outcome struct {
	Auditor   string
	Status    Status
	Reason    string
	Err       error
	Plan      *ParsedPlan
	Steps     []steps.Result
	Commit    string
	CommitErr error
	// RolledBack lists files restored after a failed plan.
	RolledBack []string
	StartedAt  time.Time
	EndedAt    time.Time
}

// FilesChanged returns the files changed by all steps, in first-touched order.
func (o Outcome) FilesChanged() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range o.Steps {
		for _, f := range r.FilesChanged {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// Prepared is a validated plan ready to run.
type Prepared struct {
	Plan  *ParsedPlan
	Steps []steps.Step
}

// Pipeline runs the plan phases for one auditor at a time.
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
	cfg.Audit = audit.OrNop(cfg.Audit)
	return &Pipeline{cfg: cfg, log: logging.OrNop(cfg.Logger)}, nil
}

// Prepare generates, validates and decomposes a plan without running it. A nil Prepared with a
// nil error means there is no work.
func (p *Pipeline) Prepare(ctx context.Context, auditor Auditor, artifactsDir string) (*Prepared, string, error) {
	log := p.log.With(zap.String("auditor", auditor.Name))
	p.cfg.Audit.Emit(auditor.Name, "plan_requested", map[string]any{"auditor": auditor.Name})

	raw, err := p.generate(ctx, auditor, dir(artifactsDir, "plan"))
	if err != nil {
		return nil, "", err
	}
	plan, err := p.Validate(ctx, auditor, raw, dir(artifactsDir, "plan-review"))
	if err != nil {
		var excluded *guardrails.ExcludedPathError
		if errors.As(err, &excluded) {
			v := guardrails.BuildViolation("excluded_path_in_plan", err, nil)
			v.Auditor = auditor.Name
			p.cfg.Audit.Emit(auditor.Name, "guardrail_violation", v)
			if artifactsDir != "" {
				if _, werr := guardrails.WriteViolation(dir(artifactsDir, "plan"), v); werr != nil {
					log.Warn("write violation record", zap.Error(werr))
				}
			}
		}
		return nil, "", err
	}
	if plan.Noop {
		reason := strings.TrimSpace(plan.Reason)
		if reason == "" {
			reason = "agent reported no work"
		}
		return nil, reason, nil
	}
	stepList := Decompose(plan)
	if len(stepList) == 0 {
		return nil, "plan has no steps", nil
	}
	p.cfg.Audit.Emit(auditor.Name, "plan_validated", map[string]any{
		"auditor": auditor.Name,
		"name":    plan.Title(),
		"items":   len(plan.Plan),
		"steps":   len(stepList),
	})
	log.Info("plan validated", zap.String("name", plan.Title()), zap.Int("items", len(plan.Plan)), zap.Int("steps", len(stepList)))
	return &Prepared{Plan: plan, Steps: stepList}, "", nil
}

// Run executes one auditor turn. It never returns an error; failures are reported in the
// Outcome.
func (p *Pipeline) Run(ctx context.Context, auditor Auditor, artifactsDir string) Outcome {
	out := Outcome{Auditor: auditor.Name, StartedAt: time.Now().UTC()}
	log := p.log.With(zap.String("auditor", auditor.Name))

	prepared, reason, err := p.Prepare(ctx, auditor, artifactsDir)
	switch {
	case err != nil:
		out.Status = StatusFailed
		out.Err = err
		out.Reason = err.Error()
		log.Warn("plan failed", zap.Error(err))
	case prepared == nil:
		out.Status = StatusNoPlan
		out.Reason = reason
		log.Info("no plan", zap.String("reason", reason))
	default:
		out.Plan = prepared.Plan
		p.runSteps(ctx, &out, prepared.Steps, artifactsDir, log)
	}

	out.EndedAt = time.Now().UTC()
	payload := map[string]any{
		"auditor": auditor.Name,
		"status":  string(out.Status),
		"reason":  out.Reason,
		"steps":   len(out.Steps),
	}
	if out.Commit != "" {
		payload["commit"] = out.Commit
	}
	p.cfg.Audit.Emit(auditor.Name, "plan_finished", payload)
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.ObservePlan(auditor.Name, string(out.Status))
	}
	return out
}

func (p *Pipeline) runSteps(ctx context.Context, out *Outcome, stepList []steps.Step, artifactsDir string, log *zap.Logger) {
	if p.cfg.Steps == nil {
		out.Status = StatusFailed
		out.Err = errors.New("no step runner configured")
		out.Reason = out.Err.Error()
		return
	}
	for _, step := range stepList {
		step.Related = out.FilesChanged()
		res := p.cfg.Steps.Run(ctx, step, dir(artifactsDir, fmt.Sprintf("step-%02d", step.Index)))
		out.Steps = append(out.Steps, res)
		if res.Status != steps.StatusSuccess {
			out.Status = StatusFailed
			out.Err = fmt.Errorf("step %d of %d: %w", step.Index, step.Total, res.Err)
			out.Reason = out.Err.Error()
			p.rollback(out, log)
			return
		}
	}
	out.Status = StatusSuccess
	out.Reason = fmt.Sprintf("%d step(s) completed", len(stepList))

	if p.cfg.Committer == nil {
		return
	}
	hash, err := p.cfg.Committer.Commit(ctx, CommitMessage(out.Auditor, out.Plan), out.FilesChanged())
	if err != nil {
		out.CommitErr = err
		log.Warn("commit failed", zap.Error(err))
		return
	}
	out.Commit = hash
	if hash != "" {
		log.Info("plan committed", zap.String("commit", hash))
		p.cfg.Audit.Emit(out.Auditor, "plan_committed", map[string]any{
			"auditor": out.Auditor,
			"commit":  hash,
			"name":    out.Plan.Title(),
		})
	}
}

// rollback restores every file the plan's steps changed to its state before the plan.
func (p *Pipeline) rollback(out *Outcome, log *zap.Logger) {
	before := guardrails.Snapshot{}
	for _, r := range out.Steps {
		before = before.Merge(r.Before)
	}
	if len(before) == 0 {
		return
	}
	restored, skipped, err := guardrails.Restore(p.cfg.WorkDir, before)
	out.RolledBack = restored
	payload := map[string]any{
		"auditor":  out.Auditor,
		"restored": restored,
	}
	if len(skipped) > 0 {
		payload["skipped"] = skipped
		log.Warn("rollback left files with uncaptured content", zap.Strings("paths", skipped))
	}
	if err != nil {
		payload["error"] = guardrails.SanitizeErrorForJSON(err)
		log.Error("rollback failed", zap.Error(err), zap.Strings("restored", restored))
	} else {
		log.Info("rolled back failed plan", zap.Strings("restored", restored))
	}
	p.cfg.Audit.Emit(out.Auditor, "plan_rolled_back", payload)
}

// CommitMessage renders the commit message for a completed plan.
func CommitMessage(auditor string, plan *ParsedPlan) string {
	var b strings.Builder
	title := plan.Title()
	if title == "" {
		title = "apply plan"
	}
	fmt.Fprintf(&b, "%s: %s\n", auditor, title)
	if plan != nil && len(plan.Plan) > 0 {
		b.WriteString("\n")
		for _, item := range plan.Plan {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(item.Action))
		}
	}
	return b.String()
}

func dir(base, name string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, name)
}
