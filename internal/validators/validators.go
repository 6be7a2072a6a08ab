// Package validators asks the agent to judge plans and step results.
package validators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"patchwarden/internal/adapters"
	"patchwarden/internal/logging"
)

// Verdict is a validator judgement.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// PlanCandidate is a plan awaiting semantic review.
type PlanCandidate struct {
	Auditor      string
	Directive    string
	Plan         json.RawMessage
	ArtifactsDir string
}

// StepCandidate is the result of an apply turn awaiting review.
type StepCandidate struct {
	Instruction  string
	Summary      string
	Details      string
	Diff         string
	ArtifactsDir string
}

// PlanValidator judges plan quality and safety.
type PlanValidator interface {
	ValidatePlan(ctx context.Context, c PlanCandidate) (Verdict, error)
}

// StepValidator judges whether a step's intent was satisfied.
type StepValidator interface {
	ValidateStep(ctx context.Context, c StepCandidate) (Verdict, error)
}

// TurnRecorder counts agent turns.
type TurnRecorder interface {
	ObserveTurn(purpose string)
}

// Agent runs validations as fresh executor turns.
type Agent struct {
	Executor    adapters.Executor
	Fingerprint adapters.Fingerprint
	WorkDir     string
	Timeout     time.Duration
	Recorder    TurnRecorder
	Logger      *zap.Logger
}

func (a *Agent) ValidatePlan(ctx context.Context, c PlanCandidate) (Verdict, error) {
	var b strings.Builder
	b.WriteString("# Plan review\n\n")
	b.WriteString("You are reviewing a change plan produced for the directive below. Do not modify any files.\n")
	b.WriteString("Reject the plan if it is unsafe, does not follow the directive, is vague, or changes behavior without evidence.\n\n")
	fmt.Fprintf(&b, "## Auditor\n%s\n\n", c.Auditor)
	fmt.Fprintf(&b, "## Directive\n%s\n\n", strings.TrimSpace(c.Directive))
	fmt.Fprintf(&b, "## Plan\n```json\n%s\n```\n\n", indent(c.Plan))
	b.WriteString("Reply with `valid` and a one-paragraph `reason`.\n")
	return a.run(ctx, adapters.PurposePlanValidation, b.String(), c.ArtifactsDir)
}

func (a *Agent) ValidateStep(ctx context.Context, c StepCandidate) (Verdict, error) {
	var b strings.Builder
	b.WriteString("# Step review\n\n")
	b.WriteString("Decide whether the change below fully satisfies the instruction. Do not modify any files.\n\n")
	fmt.Fprintf(&b, "## Instruction\n%s\n\n", strings.TrimSpace(c.Instruction))
	fmt.Fprintf(&b, "## Executor summary\n%s\n\n", strings.TrimSpace(c.Summary))
	if d := strings.TrimSpace(c.Details); d != "" {
		fmt.Fprintf(&b, "## Executor details\n%s\n\n", d)
	}
	fmt.Fprintf(&b, "## Diff\n```diff\n%s\n```\n\n", strings.TrimRight(c.Diff, "\n"))
	b.WriteString("If the instruction is not satisfied, set `valid` to false and explain what is missing in `reason`.\n")
	return a.run(ctx, adapters.PurposeStepValidation, b.String(), c.ArtifactsDir)
}

func (a *Agent) run(ctx context.Context, purpose adapters.Purpose, prompt, artifactsDir string) (Verdict, error) {
	if a.Executor == nil {
		return Verdict{}, errors.New("validator executor is required")
	}
	if a.Recorder != nil {
		a.Recorder.ObserveTurn(string(purpose))
	}
	resp, err := a.Executor.Run(ctx, adapters.Request{
		Purpose:      purpose,
		Prompt:       prompt,
		OutputSchema: adapters.VerdictSchema,
		Fingerprint:  a.Fingerprint,
		WorkDir:      a.WorkDir,
		ArtifactsDir: artifactsDir,
		Timeout:      a.Timeout,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%s turn: %w", purpose, err)
	}
	v, err := ParseVerdict(resp.Structured)
	if err != nil {
		return Verdict{}, fmt.Errorf("%s turn: %w", purpose, err)
	}
	logging.OrNop(a.Logger).Debug("validator verdict",
		zap.String("purpose", string(purpose)),
		zap.Bool("valid", v.Valid),
		zap.String("reason", v.Reason),
	)
	return v, nil
}

// ParseVerdict decodes a validator response, rejecting unknown fields.
func ParseVerdict(raw json.RawMessage) (Verdict, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Verdict{}, errors.New("empty verdict")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Verdict{}, fmt.Errorf("parse verdict: invalid JSON object")
	}
	for k := range fields {
		if k != "valid" && k != "reason" {
			return Verdict{}, fmt.Errorf("verdict contains disallowed field %q", k)
		}
	}
	if _, ok := fields["valid"]; !ok {
		return Verdict{}, errors.New("verdict missing required field: valid")
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return v, nil
}

func indent(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(data)
}
