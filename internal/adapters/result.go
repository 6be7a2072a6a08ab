package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Mode is the kind of step execution an ExecutionResult came from.
type Mode string

const (
	ModeApply         Mode = "apply"
	ModeFixRegression Mode = "fix_regression"
)

// ExecutionResult is the structured output of one apply or fix turn.
type ExecutionResult struct {
	Success      bool     `json:"success"`
	Summary      string   `json:"summary"`
	Details      string   `json:"details,omitempty"`
	FilesTouched []string `json:"files_touched,omitempty"`
	FilesWritten []string `json:"files_written,omitempty"`
	Patch        string   `json:"patch,omitempty"`
	Noop         bool     `json:"noop,omitempty"`
	Mode         Mode     `json:"mode"`
}

// ClaimedFiles returns touched and written paths, deduplicated, in order.
func (r *ExecutionResult) ClaimedFiles() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{r.FilesTouched, r.FilesWritten} {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ParseExecutionResult decodes the structured output of an apply or fix turn.
func ParseExecutionResult(raw json.RawMessage, mode Mode) (*ExecutionResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("empty execution result")
	}
	var res ExecutionResult
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("parse execution result: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("parse execution result: trailing data after object")
	}
	res.Mode = mode
	return &res, nil
}

// ExecutionSchema is the output schema for apply and fix turns.
const ExecutionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["success", "summary", "details", "files_touched", "files_written", "patch", "noop"],
  "properties": {
    "success": { "type": "boolean" },
    "summary": { "type": "string" },
    "details": { "type": "string" },
    "files_touched": { "type": "array", "items": { "type": "string" } },
    "files_written": { "type": "array", "items": { "type": "string" } },
    "patch": { "type": "string" },
    "noop": { "type": "boolean" }
  }
}
`

// VerdictSchema is the output schema for validator turns.
const VerdictSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["valid", "reason"],
  "properties": {
    "valid": { "type": "boolean" },
    "reason": { "type": "string" }
  }
}
`
