package guardrails

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Violation is the record written when agent output breaches a guardrail.
type Violation struct {
	Type      string         `json:"violation_type"`
	Auditor   string         `json:"auditor,omitempty"`
	Step      int            `json:"step,omitempty"`
	Paths     []string       `json:"paths,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BuildViolation creates a violation record from err. Excluded path errors contribute their
// offending paths.
func BuildViolation(violationType string, err error, details map[string]any) Violation {
	v := Violation{
		Type:      violationType,
		Error:     SanitizeErrorForJSON(err),
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	var excluded *ExcludedPathError
	if errors.As(err, &excluded) {
		v.Paths = append([]string(nil), excluded.Paths...)
	}
	return v
}

// WriteViolation writes violation.json into dir.
func WriteViolation(dir string, v Violation) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create violation dir: %w", err)
	}
	path := filepath.Join(dir, "violation.json")
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal violation: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write violation.json: %w", err)
	}
	return path, nil
}

// SanitizeErrorForJSON strips newlines and truncates error messages for JSON safety.
func SanitizeErrorForJSON(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	if len(msg) > 500 {
		msg = msg[:497] + "..."
	}
	return msg
}
