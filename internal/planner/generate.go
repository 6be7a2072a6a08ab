package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"patchwarden/internal/adapters"
	"patchwarden/internal/steps"
)

// Auditor is a named directive.
type Auditor struct {
	Name      string
	Directive string
}

func renderPlanPrompt(auditor Auditor, excluded []string, workDir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Auditor: %s\n\n", auditor.Name)
	b.WriteString("Review this repository according to the directive below and propose a change plan.\n")
	b.WriteString("Do not modify any files in this turn.\n\n")
	fmt.Fprintf(&b, "## Directive\n%s\n\n", strings.TrimSpace(auditor.Directive))
	b.WriteString("## Plan format\n")
	b.WriteString("- `plan`: ordered items. Each item has an `action`, `why`, the `files_involved` (paths relative to the repository root), ")
	b.WriteString("ordered `steps` that each describe one self-contained edit, a `category`, a `risk` (low, medium or high) ")
	b.WriteString("and `supportive_evidence` (file:line references or observations).\n")
	b.WriteString("- Later steps run after earlier ones and may rely on their changes.\n")
	b.WriteString("- If nothing needs to change, return an empty `plan`, set `noop` to true and explain in `reason`.\n")
	b.WriteString("- `name` is a short title for the whole plan.\n")
	if len(excluded) > 0 {
		b.WriteString("\n## Off limits\nNever plan changes under:\n")
		for _, p := range excluded {
			rel := p
			if r, err := filepath.Rel(workDir, p); err == nil && !strings.HasPrefix(r, "..") {
				rel = filepath.ToSlash(r)
			}
			fmt.Fprintf(&b, "- %s\n", rel)
		}
	}
	return b.String()
}

// generate asks the agent for a plan. A nil raw result with a nil error never happens.
func (p *Pipeline) generate(ctx context.Context, auditor Auditor, artifactsDir string) (json.RawMessage, error) {
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.ObserveTurn(string(adapters.PurposePlan))
	}
	resp, err := p.cfg.Executor.Run(ctx, adapters.Request{
		Purpose:      adapters.PurposePlan,
		Prompt:       renderPlanPrompt(auditor, p.cfg.ExcludedPrefixes, p.cfg.WorkDir),
		OutputSchema: PlanSchema,
		Fingerprint:  p.cfg.Fingerprint,
		WorkDir:      p.cfg.WorkDir,
		ArtifactsDir: artifactsDir,
		Timeout:      p.cfg.Timeout,
	})
	if err != nil && (resp == nil || len(resp.Structured) == 0) {
		return nil, fmt.Errorf("%w: plan turn: %v", steps.ErrExecutorFailure, err)
	}
	if resp == nil || len(strings.TrimSpace(string(resp.Structured))) == 0 {
		return nil, fmt.Errorf("%w: plan turn returned no structured output", steps.ErrExecutorFailure)
	}
	return resp.Structured, nil
}
