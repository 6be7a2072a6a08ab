package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"patchwarden/internal/adapters"
	"patchwarden/internal/gate"
	"patchwarden/internal/guardrails"
	"patchwarden/internal/validators"
)

// execute runs one apply or fix turn and classifies its result.
func (p *Pipeline) execute(ctx context.Context, st *State, step Step, mode adapters.Mode, turnDir string) Outcome {
	if !st.Tracker.RecordAttempt() {
		err := ErrThreadLifetimeExhausted
		if st.LastFailure != nil {
			err = fmt.Errorf("%w after %w", ErrThreadLifetimeExhausted, st.LastFailure)
		}
		return Abort{
			Reason: fmt.Sprintf("used all %d agent turns for this step", st.Tracker.Max()),
			Err:    err,
		}
	}
	st.Turns++

	pre, err := p.cfg.Snapshotter.Read(ctx, p.cfg.WorkDir, st.knownFiles(step))
	if err != nil {
		return Abort{Reason: "snapshot before turn", Err: err}
	}
	st.Snapshot = st.Snapshot.Merge(pre)
	if st.Prior, err = p.cfg.Snapshotter.Manifest(ctx, p.cfg.WorkDir, p.cfg.ExcludedPrefixes); err != nil {
		return Abort{Reason: "manifest before turn", Err: err}
	}

	fp := p.cfg.ApplyFingerprint
	purpose := adapters.PurposeApply
	if mode == adapters.ModeFixRegression {
		fp = p.cfg.FixFingerprint
		purpose = adapters.PurposeFixRegression
	}
	session, discarded := st.Session.For(fp)
	if discarded {
		p.log.Info("session discarded", zap.String("previous", st.Session.Fingerprint().String()), zap.String("next", fp.String()))
		p.cfg.Audit.Emit(p.cfg.Actor, "session_discarded", map[string]any{
			"step":     step.Index,
			"previous": st.Session.Fingerprint().String(),
			"next":     fp.String(),
		})
	}
	st.Session = session

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.ObserveTurn(string(purpose))
	}
	resp, runErr := p.cfg.Executor.Run(ctx, adapters.Request{
		Purpose:      purpose,
		Prompt:       renderPrompt(step, mode, st.AdditionalContext, p.cfg.ExcludedPrefixes, p.cfg.WorkDir),
		OutputSchema: adapters.ExecutionSchema,
		Session:      session,
		Fingerprint:  fp,
		WorkDir:      p.cfg.WorkDir,
		ArtifactsDir: turnDir,
		Timeout:      p.cfg.Timeout,
		OnEvent: func(ev adapters.Event) {
			p.log.Debug("agent event", zap.Int("step", step.Index), zap.String("type", ev.Type))
		},
	})
	if resp != nil && resp.Session.Active() {
		st.Session = resp.Session
	}
	turnPayload := map[string]any{
		"step":    step.Index,
		"turn":    st.Turns,
		"mode":    string(mode),
		"session": st.Session.Handle(),
		"model":   fp.String(),
	}
	if resp != nil {
		turnPayload["exit_code"] = resp.ExitCode
		turnPayload["transcript"] = resp.TranscriptPath
	}
	if runErr != nil {
		turnPayload["error"] = guardrails.SanitizeErrorForJSON(runErr)
	}
	p.cfg.Audit.Emit(p.cfg.Actor, "agent_turn", turnPayload)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Abort{Reason: "canceled during agent turn", Err: ctxErr}
		}
		if resp == nil || len(resp.Structured) == 0 {
			return Retry{Reason: fmt.Sprintf("The previous attempt failed to produce a result: %s", guardrails.SanitizeErrorForJSON(runErr))}
		}
	}
	if resp == nil || len(strings.TrimSpace(string(resp.Structured))) == 0 {
		return Retry{Reason: "The previous attempt produced no result. Reply with the required JSON object."}
	}
	res, err := adapters.ParseExecutionResult(resp.Structured, mode)
	if err != nil {
		return Abort{Reason: "malformed execution result", Err: fmt.Errorf("%w: %v", ErrSchemaViolation, err)}
	}

	if err := guardrails.CheckChange(p.cfg.WorkDir, res.ClaimedFiles(), res.Patch, p.cfg.ExcludedPrefixes); err != nil {
		p.recordViolation(step, mode, turnDir, err)
		return Abort{Reason: "agent changed an excluded path", Err: err}
	}

	hasChange := strings.TrimSpace(res.Patch) != "" || len(res.ClaimedFiles()) > 0
	if res.Noop || !res.Success || !hasChange {
		if res.Noop || IsNoopSummary(res.Summary) {
			return Abort{Reason: res.Summary, Err: ErrNoop}
		}
		reason := strings.TrimSpace(res.Summary)
		if reason == "" {
			reason = "The previous attempt reported failure without a summary."
		}
		if res.Success && !hasChange {
			reason = "The previous attempt reported success but listed no changed files and no patch. " + reason
		}
		return Retry{Reason: reason}
	}
	return Proceed{Execution: res, Session: st.Session}
}

// validateExecution checks that the files the agent claims to have changed actually differ.
func (p *Pipeline) validateExecution(ctx context.Context, st *State, in Proceed, turnDir string) Outcome {
	claimed := in.Execution.ClaimedFiles()
	if len(claimed) == 0 {
		claimed = guardrails.PatchPaths(in.Execution.Patch)
	}
	post, err := p.cfg.Snapshotter.Read(ctx, p.cfg.WorkDir, append(claimed, st.Touched...))
	if err != nil {
		return Abort{Reason: "snapshot after turn", Err: err}
	}
	changed, unverified := guardrails.ChangedFiles(p.cfg.WorkDir, st.Prior, post, claimed)
	if len(unverified) > 0 {
		p.log.Warn("claimed files outside the workspace manifest", zap.Strings("paths", unverified))
	}
	if len(changed) == 0 {
		return Abort{
			Reason: fmt.Sprintf("agent reported success but none of %s changed", strings.Join(claimed, ", ")),
			Err:    ErrInconsistentExecution,
		}
	}
	st.touch(changed)

	before, err := p.beforeState(st, changed)
	if err != nil {
		return Abort{Reason: "read baseline", Err: err}
	}
	diff, err := guardrails.UnifiedDiff(before, post, changed)
	if err != nil {
		return Abort{Reason: "render diff", Err: err}
	}
	in.Execution.Patch = diff
	if turnDir != "" {
		if err := os.MkdirAll(turnDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(turnDir, "step.diff"), []byte(diff), 0o644)
		}
	}
	in.Snapshot = post
	return in
}

// beforeState returns the earliest known content of paths. Files first seen after the turn take
// their pre-turn state from the manifest, with content from the baseline when its digest matches.
func (p *Pipeline) beforeState(st *State, paths []string) (guardrails.Snapshot, error) {
	before := make(guardrails.Snapshot, len(paths))
	for _, path := range paths {
		if s, ok := st.Snapshot[path]; ok {
			before[path] = s
			continue
		}
		digest, present, _ := st.Prior.Lookup(path)
		if !present {
			before[path] = guardrails.FileState{}
			continue
		}
		before[path] = guardrails.FileState{Present: true, Uncaptured: true}
		if p.cfg.Baseline == nil || filepath.IsAbs(path) {
			continue
		}
		content, inHead, err := p.cfg.Baseline.BaselineFile(path)
		if err != nil {
			return nil, err
		}
		if inHead && guardrails.Digest(content) == digest {
			before[path] = guardrails.FileState{Content: content, Present: true}
		}
	}
	st.Snapshot = st.Snapshot.Merge(before)
	return before, nil
}

// validateStep asks the step validator whether the instruction was satisfied.
func (p *Pipeline) validateStep(ctx context.Context, st *State, step Step, in Proceed, turnDir string) Outcome {
	if p.cfg.Validator == nil {
		return in
	}
	dir := ""
	if turnDir != "" {
		dir = filepath.Join(turnDir, "validate")
	}
	verdict, err := p.cfg.Validator.ValidateStep(ctx, validators.StepCandidate{
		Instruction:  step.Instruction,
		Summary:      in.Execution.Summary,
		Details:      in.Execution.Details,
		Diff:         in.Execution.Patch,
		ArtifactsDir: dir,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Abort{Reason: "canceled during step validation", Err: ctxErr}
		}
		p.log.Warn("step validation failed to run", zap.Int("step", step.Index), zap.Error(err))
		return Retry{Reason: fmt.Sprintf("Step review could not run (%s). Re-check the change.", guardrails.SanitizeErrorForJSON(err))}
	}
	p.cfg.Audit.Emit(p.cfg.Actor, "step_validated", map[string]any{
		"step":   step.Index,
		"valid":  verdict.Valid,
		"reason": verdict.Reason,
	})
	if !verdict.Valid {
		reason := strings.TrimSpace(verdict.Reason)
		if reason == "" {
			reason = "the reviewer rejected the change without a reason"
		}
		return Retry{Reason: "Step review rejected the change: " + reason}
	}
	return in
}

// runGate invokes the gate up to MaxValidationRetries times; any pass counts.
func (p *Pipeline) runGate(ctx context.Context, log *zap.Logger) (gate.Verdict, error) {
	if p.cfg.Gate == nil || !p.cfg.Gate.Enabled() {
		log.Info("quality gate disabled")
		p.cfg.Audit.Emit(p.cfg.Actor, "quality_gate", map[string]any{"disabled": true, "passed": true})
		return gate.Verdict{Passed: true}, nil
	}
	var last gate.Verdict
	for i := 1; i <= p.cfg.MaxValidationRetries; i++ {
		v, err := p.cfg.Gate.Run(ctx, p.cfg.WorkDir)
		if err != nil {
			return v, err
		}
		p.cfg.Audit.Emit(p.cfg.Actor, "quality_gate", map[string]any{
			"invocation":   i,
			"passed":       v.Passed,
			"failed_stage": string(v.FailedStage),
		})
		if v.Passed {
			log.Info("quality gate passed", zap.Int("invocation", i))
			return v, nil
		}
		last = v
	}
	if last.AdditionalContext == "" {
		last.AdditionalContext = "Quality gate failed"
	}
	return last, nil
}

func (p *Pipeline) recordViolation(step Step, mode adapters.Mode, turnDir string, err error) {
	v := guardrails.BuildViolation("excluded_path", err, map[string]any{
		"step": step.Index,
		"mode": string(mode),
	})
	v.Step = step.Index
	v.Auditor = p.cfg.Actor
	p.log.Error("excluded path violation", zap.Int("step", step.Index), zap.Strings("paths", v.Paths))
	p.cfg.Audit.Emit(p.cfg.Actor, "guardrail_violation", v)
	if turnDir == "" {
		return
	}
	if _, werr := guardrails.WriteViolation(turnDir, v); werr != nil {
		p.log.Warn("write violation record", zap.Error(werr))
	}
}
