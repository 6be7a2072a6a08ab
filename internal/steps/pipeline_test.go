package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"patchwarden/internal/adapters"
	"patchwarden/internal/gate"
	"patchwarden/internal/validators"
)

type turnFunc func(req adapters.Request) (*adapters.Response, error)

type scriptedExecutor struct {
	turns []turnFunc
	reqs  []adapters.Request
}

func (e *scriptedExecutor) Name() string { return "scripted" }

func (e *scriptedExecutor) Run(ctx context.Context, req adapters.Request) (*adapters.Response, error) {
	e.reqs = append(e.reqs, req)
	i := len(e.reqs) - 1
	if i >= len(e.turns) {
		return nil, fmt.Errorf("unexpected turn %d", i+1)
	}
	return e.turns[i](req)
}

func (e *scriptedExecutor) purposes() []adapters.Purpose {
	out := make([]adapters.Purpose, 0, len(e.reqs))
	for _, r := range e.reqs {
		out = append(out, r.Purpose)
	}
	return out
}

func respond(res adapters.ExecutionResult, session string) (*adapters.Response, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	resp := &adapters.Response{Structured: data, RawText: string(data)}
	if session != "" {
		resp.Session = adapters.NewSession(session, adapters.Fingerprint{})
	}
	return resp, nil
}

// writes changes path under the workdir and reports it.
func writes(path, content string) turnFunc {
	return func(req adapters.Request) (*adapters.Response, error) {
		full := filepath.Join(req.WorkDir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, err
		}
		resp, err := respond(adapters.ExecutionResult{Success: true, Summary: "edited " + path, FilesWritten: []string{path}}, "")
		if resp != nil {
			resp.Session = adapters.NewSession("thread-"+string(req.Purpose), req.Fingerprint)
		}
		return resp, err
	}
}

func reports(res adapters.ExecutionResult) turnFunc {
	return func(req adapters.Request) (*adapters.Response, error) {
		return respond(res, "")
	}
}

type scriptedGate struct {
	enabled bool
	passes  []bool
	calls   int
}

func (g *scriptedGate) Enabled() bool { return g.enabled }

func (g *scriptedGate) Run(ctx context.Context, cwd string) (gate.Verdict, error) {
	pass := g.passes[len(g.passes)-1]
	if g.calls < len(g.passes) {
		pass = g.passes[g.calls]
	}
	g.calls++
	if pass {
		return gate.Verdict{Passed: true}, nil
	}
	return gate.Verdict{
		FailedStage:       gate.StageTest,
		AdditionalContext: fmt.Sprintf("Quality gate failed at test: failure %d", g.calls),
	}, nil
}

type scriptedValidator struct {
	verdicts   []validators.Verdict
	candidates []validators.StepCandidate
}

func (v *scriptedValidator) ValidateStep(ctx context.Context, c validators.StepCandidate) (validators.Verdict, error) {
	v.candidates = append(v.candidates, c)
	i := len(v.candidates) - 1
	if i >= len(v.verdicts) {
		return validators.Verdict{Valid: true}, nil
	}
	return v.verdicts[i], nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(actor, eventType string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

func (s *recordingSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	dir       string
	exec      *scriptedExecutor
	gate      *scriptedGate
	validator *scriptedValidator
	sink      *recordingSink
	cfg       Config
}

func newFixture(t *testing.T, turns ...turnFunc) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))
	f := &fixture{
		dir:       dir,
		exec:      &scriptedExecutor{turns: turns},
		gate:      &scriptedGate{enabled: true, passes: []bool{true}},
		validator: &scriptedValidator{},
		sink:      &recordingSink{},
	}
	f.cfg = Config{
		WorkDir:               dir,
		ExcludedPrefixes:      []string{filepath.Join(dir, "vendor")},
		Executor:              f.exec,
		ApplyFingerprint:      adapters.Fingerprint{Model: "m", Reasoning: "medium"},
		FixFingerprint:        adapters.Fingerprint{Model: "m", Reasoning: "medium"},
		MaxThreadAttempts:     8,
		MaxRegressionAttempts: 3,
		MaxValidationRetries:  1,
		Validator:             f.validator,
		Gate:                  f.gate,
		Audit:                 f.sink,
		Logger:                zaptest.NewLogger(t),
	}
	return f
}

func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	p, err := New(f.cfg)
	require.NoError(t, err)
	return p.Run(context.Background(), Step{Index: 1, Total: 1, Instruction: "add a run function", Files: []string{"main.go"}}, filepath.Join(f.dir, ".artifacts"))
}

func TestHappyPathConsumesNoRegressionAttempts(t *testing.T) {
	f := newFixture(t, writes("main.go", "package main\n\nfunc run() {}\n"))

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.RegressionAttempts)
	assert.Equal(t, 1, res.Turns)
	assert.Equal(t, []string{"main.go"}, res.FilesChanged)
	assert.Equal(t, 1, f.gate.calls)
	require.Len(t, f.validator.candidates, 1)
	assert.Contains(t, f.validator.candidates[0].Diff, "+func run() {}")

	diff, err := os.ReadFile(filepath.Join(f.dir, ".artifacts", "turn-01-apply", "step.diff"))
	require.NoError(t, err)
	assert.Contains(t, string(diff), "diff --git a/main.go b/main.go")
	assert.Equal(t, 1, f.sink.count("step_finished"))
}

func TestGateFailsTwiceThenPasses(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// v1\n"),
		writes("main.go", "package main\n// v2\n"),
		writes("main.go", "package main\n// v3\n"),
	)
	f.gate.passes = []bool{false, false, true}

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.RegressionAttempts)
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, []adapters.Purpose{adapters.PurposeApply, adapters.PurposeFixRegression, adapters.PurposeFixRegression}, f.exec.purposes())
	assert.Len(t, f.validator.candidates, 1, "fix turns skip step review")
	assert.Contains(t, f.exec.reqs[2].Prompt, "Quality gate failed at test: failure 2")
	assert.NotContains(t, f.exec.reqs[2].Prompt, "failure 1")
	assert.Equal(t, 2, f.sink.count("regression_started"))
}

func TestRegressionCapExceeded(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// v1\n"),
		writes("main.go", "package main\n// v2\n"),
	)
	f.gate.passes = []bool{false}
	f.cfg.MaxRegressionAttempts = 1

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrRegressionCapExceeded)
	assert.ErrorIs(t, res.Err, ErrQualityGateFailure)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 1, res.RegressionAttempts, "counts fix turns that ran")
	assert.Equal(t, 1, f.sink.count("regression_started"))
	require.Contains(t, res.Before, "main.go")
	assert.Equal(t, "package main\n", string(res.Before["main.go"].Content))
}

func TestZeroRegressionCapAbortsOnFirstGateFailure(t *testing.T) {
	f := newFixture(t, writes("main.go", "package main\n// v1\n"))
	f.gate.passes = []bool{false}
	f.cfg.MaxRegressionAttempts = 0

	res := f.run(t)
	assert.ErrorIs(t, res.Err, ErrRegressionCapExceeded)
	assert.Equal(t, 1, res.Turns)
	assert.Zero(t, res.RegressionAttempts)
}

func TestNothingToChangeAborts(t *testing.T) {
	f := newFixture(t, reports(adapters.ExecutionResult{Success: false, Summary: "Nothing to change: the helper was already removed"}))

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrNoop)
	assert.Equal(t, 1, res.Turns)
	assert.Zero(t, f.gate.calls)
}

func TestExecutePhaseClassifiesNoopAsAbort(t *testing.T) {
	f := newFixture(t, reports(adapters.ExecutionResult{Success: false, Summary: "nothing to change"}))
	p, err := New(f.cfg)
	require.NoError(t, err)

	out := p.execute(context.Background(), newState(8), Step{Index: 1, Total: 1, Instruction: "x"}, adapters.ModeApply, "")
	_, isAbort := out.(Abort)
	assert.True(t, isAbort, "expected Abort, got %T", out)
}

func TestStructuredNoopAborts(t *testing.T) {
	f := newFixture(t, reports(adapters.ExecutionResult{Success: false, Summary: "the code is fine", Noop: true}))

	res := f.run(t)
	assert.ErrorIs(t, res.Err, ErrNoop)
}

func TestUnchangedClaimedFilesAbort(t *testing.T) {
	f := newFixture(t, reports(adapters.ExecutionResult{Success: true, Summary: "done", FilesWritten: []string{"main.go"}}))

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrInconsistentExecution)
	assert.Equal(t, 1, res.Turns)
	assert.Empty(t, f.validator.candidates)
}

func TestRetryClaimingEarlierEditAborts(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// partial\n"),
		reports(adapters.ExecutionResult{Success: true, Summary: "finished", FilesWritten: []string{"main.go"}}),
	)
	f.validator.verdicts = []validators.Verdict{{Valid: false, Reason: "incomplete"}}

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrInconsistentExecution)
	assert.Equal(t, 2, res.Turns)
	assert.Zero(t, f.gate.calls)
}

func TestFixTurnWithoutChangeAborts(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// v1\n"),
		reports(adapters.ExecutionResult{Success: true, Summary: "fixed the test", FilesWritten: []string{"main.go"}}),
	)
	f.gate.passes = []bool{false, true}

	res := f.run(t)
	assert.ErrorIs(t, res.Err, ErrInconsistentExecution)
	assert.Equal(t, 1, f.gate.calls)
}

func TestUntouchedFileOutsideStepAborts(t *testing.T) {
	f := newFixture(t, reports(adapters.ExecutionResult{Success: true, Summary: "done", FilesWritten: []string{"other.go"}}))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "other.go"), []byte("package main\n"), 0o644))
	require.Nil(t, f.cfg.Baseline)

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrInconsistentExecution)
	assert.Empty(t, res.FilesChanged)
}

func TestEditedFileOutsideStepWithoutBaseline(t *testing.T) {
	f := newFixture(t, writes("other.go", "package main\n\nfunc other() {}\n"))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "other.go"), []byte("package main\n"), 0o644))

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"other.go"}, res.FilesChanged)
	assert.Contains(t, f.validator.candidates[0].Diff, "previous content was not captured")
	assert.True(t, res.Before["other.go"].Uncaptured)
}

func TestRelatedFilesAreCapturedBeforeTurn(t *testing.T) {
	f := newFixture(t, writes("helper.go", "package main\n\nfunc helper() {}\n"))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "helper.go"), []byte("package main\n"), 0o644))
	p, err := New(f.cfg)
	require.NoError(t, err)

	step := Step{Index: 2, Total: 2, Instruction: "add helper", Files: []string{"main.go"}, Related: []string{"helper.go"}}
	res := p.Run(context.Background(), step, "")
	require.NoError(t, res.Err)
	assert.False(t, res.Before["helper.go"].Uncaptured)
	assert.Equal(t, "package main\n", string(res.Before["helper.go"].Content))
	assert.Contains(t, f.validator.candidates[0].Diff, "+func helper() {}")
}

func TestAddContextKeepsWholeRunes(t *testing.T) {
	st := newState(0)
	st.addContext(strings.Repeat("é", maxContextLen+10))
	assert.Equal(t, maxContextLen, len([]rune(st.AdditionalContext)))
	assert.True(t, utf8.ValidString(st.AdditionalContext))
}

func TestFailureRetriesWithFeedback(t *testing.T) {
	f := newFixture(t,
		reports(adapters.ExecutionResult{Success: false, Summary: "could not find symbol Foo"}),
		writes("main.go", "package main\n// fixed\n"),
	)

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Turns)
	assert.Equal(t, 0, res.RegressionAttempts)
	assert.Equal(t, adapters.PurposeApply, f.exec.reqs[1].Purpose)
	assert.Contains(t, f.exec.reqs[1].Prompt, "could not find symbol Foo")
	assert.Equal(t, 1, f.sink.count("step_retry"))
}

func TestThreadLifetimeExhausted(t *testing.T) {
	fail := reports(adapters.ExecutionResult{Success: false, Summary: "tool crashed"})
	f := newFixture(t, fail, fail, fail)
	f.cfg.MaxThreadAttempts = 2

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrThreadLifetimeExhausted)
	assert.ErrorIs(t, res.Err, ErrExecutorFailure)
	assert.Len(t, f.exec.reqs, 2)
}

func TestExcludedPathAborts(t *testing.T) {
	f := newFixture(t, reports(adapters.ExecutionResult{Success: true, Summary: "patched dependency", FilesWritten: []string{"vendor/lib/x.go"}}))

	res := f.run(t)
	assert.Equal(t, StatusAborted, res.Status)
	assert.ErrorIs(t, res.Err, ErrExcludedPath)
	_, err := os.Stat(filepath.Join(f.dir, ".artifacts", "turn-01-apply", "violation.json"))
	assert.NoError(t, err)
	assert.Equal(t, 1, f.sink.count("guardrail_violation"))
}

func TestSchemaViolationAborts(t *testing.T) {
	f := newFixture(t, func(req adapters.Request) (*adapters.Response, error) {
		return &adapters.Response{Structured: json.RawMessage(`{"success":"yes"}`)}, nil
	})

	res := f.run(t)
	assert.ErrorIs(t, res.Err, ErrSchemaViolation)
	assert.Zero(t, res.RegressionAttempts)
}

func TestExecutorErrorRetries(t *testing.T) {
	f := newFixture(t,
		func(req adapters.Request) (*adapters.Response, error) {
			return nil, errors.New("codex exited with code 1")
		},
		writes("main.go", "package main\n// ok\n"),
	)

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Contains(t, f.exec.reqs[1].Prompt, "codex exited with code 1")
}

func TestValidatorRejectionRetriesApply(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// partial\n"),
		writes("main.go", "package main\n// complete\n"),
	)
	f.validator.verdicts = []validators.Verdict{{Valid: false, Reason: "tests were not updated"}, {Valid: true}}

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.RegressionAttempts)
	assert.Equal(t, []adapters.Purpose{adapters.PurposeApply, adapters.PurposeApply}, f.exec.purposes())
	assert.Contains(t, f.exec.reqs[1].Prompt, "tests were not updated")
	assert.Equal(t, 1, f.gate.calls)
}

func TestSessionReusedForSameFingerprint(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// v1\n"),
		writes("main.go", "package main\n// v2\n"),
	)
	f.gate.passes = []bool{false, true}

	res := f.run(t)
	require.NoError(t, res.Err)
	require.Len(t, f.exec.reqs, 2)
	assert.False(t, f.exec.reqs[0].Session.Active())
	assert.Equal(t, "thread-apply", f.exec.reqs[1].Session.Handle())
	assert.Zero(t, f.sink.count("session_discarded"))
}

func TestSessionDiscardedWhenFingerprintChanges(t *testing.T) {
	f := newFixture(t,
		writes("main.go", "package main\n// v1\n"),
		writes("main.go", "package main\n// v2\n"),
	)
	f.cfg.FixFingerprint = adapters.Fingerprint{Model: "m", Reasoning: "high"}
	f.gate.passes = []bool{false, true}

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.False(t, f.exec.reqs[1].Session.Active())
	assert.Equal(t, f.cfg.FixFingerprint, f.exec.reqs[1].Fingerprint)
	assert.Equal(t, 1, f.sink.count("session_discarded"))
}

func TestDisabledGateCountsAsPass(t *testing.T) {
	f := newFixture(t, writes("main.go", "package main\n// v1\n"))
	f.gate.enabled = false

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Zero(t, f.gate.calls)
}

func TestGateReinvokedWithinOneEvaluation(t *testing.T) {
	f := newFixture(t, writes("main.go", "package main\n// v1\n"))
	f.gate.passes = []bool{false, true}
	f.cfg.MaxValidationRetries = 2

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.RegressionAttempts)
	assert.Equal(t, 2, f.gate.calls)
}

func TestNewFileUsesAbsentBaseline(t *testing.T) {
	f := newFixture(t, writes("internal/run.go", "package internal\n"))

	res := f.run(t)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"internal/run.go"}, res.FilesChanged)
	assert.Contains(t, f.validator.candidates[0].Diff, "--- /dev/null")
}

func TestCanceledContextAborts(t *testing.T) {
	f := newFixture(t, writes("main.go", "x"))
	p, err := New(f.cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, Step{Index: 1, Total: 1, Instruction: "x"}, "")
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, f.exec.reqs)
}

func TestIsNoopSummary(t *testing.T) {
	for _, s := range []string{"Nothing to change", "this is a NO-OP", "The import was already removed."} {
		assert.True(t, IsNoopSummary(s), s)
	}
	for _, s := range []string{"", "changed three files", "build failed"} {
		assert.False(t, IsNoopSummary(s), s)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{WorkDir: "."})
	require.Error(t, err)
}
