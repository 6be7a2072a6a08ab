package steps

import (
	"errors"

	"patchwarden/internal/adapters"
	"patchwarden/internal/guardrails"
)

// Failure classes. A step abort wraps exactly one of these.
var (
	ErrSchemaViolation         = guardrails.ErrSchema
	ErrExcludedPath            = guardrails.ErrExcludedPath
	ErrExecutorFailure         = errors.New("executor failure")
	ErrValidationFailure       = errors.New("validation failure")
	ErrQualityGateFailure      = errors.New("quality gate failure")
	ErrThreadLifetimeExhausted = errors.New("thread lifetime exhausted")
	ErrRegressionCapExceeded   = errors.New("regression cap exceeded")
	ErrNoop                    = errors.New("nothing to change")
	ErrInconsistentExecution   = errors.New("claimed files unchanged")
)

// Outcome is the result of one pipeline phase: Abort, Retry or Proceed.
type Outcome interface {
	outcome()
}

// Abort ends the step with no further attempts.
type Abort struct {
	Reason string
	Err    error
}

// Retry asks for another attempt with Reason fed back to the agent.
type Retry struct {
	Reason string
}

// Proceed carries the phase's state forward.
type Proceed struct {
	Execution *adapters.ExecutionResult
	Snapshot  guardrails.Snapshot
	Session   adapters.Session
}

func (Abort) outcome()   {}
func (Retry) outcome()   {}
func (Proceed) outcome() {}

func (a Abort) Error() string {
	if a.Err == nil {
		return a.Reason
	}
	if a.Reason == "" || a.Reason == a.Err.Error() {
		return a.Err.Error()
	}
	return a.Err.Error() + ": " + a.Reason
}

func (a Abort) Unwrap() error { return a.Err }
