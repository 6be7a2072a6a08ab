package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MockExecutor is a deterministic, offline executor. It never proposes work: plans are
// no-ops, validators approve, and apply turns report nothing to change.
type MockExecutor struct{}

func (a *MockExecutor) Name() string {
	return "mock"
}

func (a *MockExecutor) Run(ctx context.Context, req Request) (*Response, error) {
	if req.WorkDir == "" {
		return nil, errors.New("workdir is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload any
	switch req.Purpose {
	case PurposePlan:
		payload = map[string]any{"plan": []any{}, "noop": true, "reason": "mock executor: no work proposed"}
	case PurposePlanValidation, PurposeStepValidation:
		payload = map[string]any{"valid": true, "reason": "mock executor approves"}
	default:
		payload = ExecutionResult{Success: false, Summary: "mock executor: nothing to change", Noop: true}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	resp := &Response{Structured: data, RawText: string(data)}
	if req.ArtifactsDir != "" {
		if err := os.MkdirAll(req.ArtifactsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create artifacts dir: %w", err)
		}
		transcriptPath := filepath.Join(req.ArtifactsDir, "transcript.jsonl")
		if err := os.WriteFile(transcriptPath, []byte(`{"type":"mock","note":"no agent executed"}`+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("write transcript: %w", err)
		}
		resp.TranscriptPath = transcriptPath
	}
	return resp, nil
}
