package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"patchwarden/internal/guardrails"
	"patchwarden/internal/steps"
	"patchwarden/internal/validators"
)

// Validate checks a raw plan: schema first, then excluded paths, then the semantic validator.
// The semantic validator is not consulted when an earlier check fails.
func (p *Pipeline) Validate(ctx context.Context, auditor Auditor, raw json.RawMessage, artifactsDir string) (*ParsedPlan, error) {
	if err := guardrails.ValidatePlanJSON(raw); err != nil {
		return nil, err
	}
	plan, err := parsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", steps.ErrSchemaViolation, err)
	}
	if plan.Noop {
		return plan, nil
	}

	var files []string
	for _, item := range plan.Plan {
		files = append(files, item.FilesInvolved...)
	}
	if err := guardrails.CheckPaths(p.cfg.WorkDir, files, p.cfg.ExcludedPrefixes); err != nil {
		return plan, fmt.Errorf("plan rejected: %w", err)
	}

	if p.cfg.Validator == nil || len(plan.Plan) == 0 {
		return plan, nil
	}
	verdict, err := p.cfg.Validator.ValidatePlan(ctx, validators.PlanCandidate{
		Auditor:      auditor.Name,
		Directive:    auditor.Directive,
		Plan:         raw,
		ArtifactsDir: artifactsDir,
	})
	if err != nil {
		return plan, fmt.Errorf("%w: plan review: %v", steps.ErrExecutorFailure, err)
	}
	if !verdict.Valid {
		reason := strings.TrimSpace(verdict.Reason)
		if reason == "" {
			reason = "no reason given"
		}
		return plan, fmt.Errorf("%w: plan rejected by review: %s", steps.ErrValidationFailure, reason)
	}
	return plan, nil
}
