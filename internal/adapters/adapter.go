package adapters

import (
	"context"
	"encoding/json"
	"time"
)

// Purpose labels what an agent turn is for. It names artifacts and lets offline executors
// answer with the right shape.
type Purpose string

const (
	PurposePlan           Purpose = "plan"
	PurposePlanValidation Purpose = "plan_validation"
	PurposeApply          Purpose = "apply"
	PurposeFixRegression  Purpose = "fix_regression"
	PurposeStepValidation Purpose = "step_validation"
)

// Executor runs a single agent turn.
type Executor interface {
	Name() string
	Run(ctx context.Context, req Request) (*Response, error)
}

// Request configures one agent turn.
type Request struct {
	Purpose      Purpose
	Prompt       string
	OutputSchema string
	// Session continues a prior conversation when active; the zero value starts fresh.
	Session      Session
	Fingerprint  Fingerprint
	WorkDir      string
	ArtifactsDir string
	Timeout      time.Duration
	// OnEvent receives progress events in order. It must not block.
	OnEvent func(Event)
}

// Response is the outcome of one agent turn.
type Response struct {
	Structured     json.RawMessage
	RawText        string
	Session        Session
	TranscriptPath string
	ExitCode       int
}

// Event is a progress event emitted while the agent works.
type Event struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (*Response, error)

func (f ExecutorFunc) Name() string { return "func" }

func (f ExecutorFunc) Run(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
