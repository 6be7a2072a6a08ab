package gate

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"patchwarden/internal/config"
)

type scriptedRunner struct {
	results map[string]StageResult
	calls   []string
}

func (r *scriptedRunner) Run(ctx context.Context, command, cwd string) (StageResult, error) {
	r.calls = append(r.calls, command)
	return r.results[command], nil
}

type fakeCondenser struct {
	summary string
	err     error
	calls   int
}

func (c *fakeCondenser) Condense(ctx context.Context, stdout, stderr string) (string, error) {
	c.calls++
	return c.summary, c.err
}

type stageRecord struct {
	stage  string
	passed bool
}

type recorder struct{ records []stageRecord }

func (r *recorder) ObserveStage(stage string, passed bool, d time.Duration) {
	r.records = append(r.records, stageRecord{stage, passed})
}

func stages(build, lint, test bool) []StageConfig {
	return []StageConfig{
		{Name: StageTest, Enabled: test, Command: "test"},
		{Name: StageBuild, Enabled: build, Command: "build"},
		{Name: StageLint, Enabled: lint, Command: "lint"},
	}
}

func TestRunFailFastOnBuild(t *testing.T) {
	exec := &scriptedRunner{results: map[string]StageResult{
		"build": {ExitOK: false, ExitCode: 2, Stderr: "main.go:3: undefined: foo"},
		"lint":  {ExitOK: true},
		"test":  {ExitOK: true},
	}}
	core, logs := observer.New(zap.InfoLevel)
	rec := &recorder{}
	r := &Runner{Stages: stages(true, true, true), Exec: exec, Recorder: rec, Logger: zap.New(core)}

	v, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Equal(t, StageBuild, v.FailedStage)
	assert.Equal(t, "Quality gate failed at build: main.go:3: undefined: foo", v.AdditionalContext)
	assert.Equal(t, []string{"build"}, exec.calls, "lint and test must not run after a build failure")
	assert.Equal(t, []stageRecord{{"build", false}}, rec.records)

	entries := logs.FilterMessage("quality gate failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "build", entries[0].ContextMap()["stage"])
}

func TestRunAllPass(t *testing.T) {
	exec := &scriptedRunner{results: map[string]StageResult{
		"build": {ExitOK: true},
		"lint":  {ExitOK: true},
		"test":  {ExitOK: true},
	}}
	r := &Runner{Stages: stages(true, true, true), Exec: exec}

	v, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, v.Passed)
	assert.Empty(t, v.AdditionalContext)
	assert.Equal(t, []string{"build", "lint", "test"}, exec.calls)
	assert.Len(t, v.Stages, 3)
}

func TestRunSkipsDisabledStages(t *testing.T) {
	exec := &scriptedRunner{results: map[string]StageResult{
		"build": {ExitOK: true},
		"test":  {ExitOK: true},
	}}
	r := &Runner{Stages: stages(true, false, true), Exec: exec}

	v, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.True(t, v.Passed)
	assert.Equal(t, []string{"build", "test"}, exec.calls)
}

func TestEnabled(t *testing.T) {
	assert.False(t, (&Runner{Stages: stages(false, false, false)}).Enabled())
	assert.True(t, (&Runner{Stages: stages(false, false, true)}).Enabled())
	var nilRunner *Runner
	assert.False(t, nilRunner.Enabled())
}

func TestTestStageUsesCondenser(t *testing.T) {
	exec := &scriptedRunner{results: map[string]StageResult{
		"test": {ExitOK: false, ExitCode: 1, Stdout: "--- FAIL: TestX\nlots of noise"},
	}}
	cond := &fakeCondenser{summary: "TestX failed: nil map write"}
	r := &Runner{Stages: stages(false, false, true), Exec: exec, Condenser: cond}

	v, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "Quality gate failed at test: TestX failed: nil map write", v.AdditionalContext)
	assert.Equal(t, 1, cond.calls)
}

func TestCondenserFailureFallsBackToRawTail(t *testing.T) {
	exec := &scriptedRunner{results: map[string]StageResult{
		"test": {ExitOK: false, ExitCode: 1, Stdout: "\x1b[31m--- FAIL: TestX\x1b[0m"},
	}}
	r := &Runner{Stages: stages(false, false, true), Exec: exec, Condenser: &fakeCondenser{err: errors.New("offline")}}

	v, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "Quality gate failed at test: --- FAIL: TestX", v.AdditionalContext)
}

func TestNonTestStageSkipsCondenser(t *testing.T) {
	exec := &scriptedRunner{results: map[string]StageResult{
		"lint": {ExitOK: false, ExitCode: 1, Stdout: "x.go:1: unused variable"},
	}}
	cond := &fakeCondenser{summary: "should not be used"}
	r := &Runner{Stages: stages(false, true, false), Exec: exec, Condenser: cond}

	v, err := r.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "Quality gate failed at lint: x.go:1: unused variable", v.AdditionalContext)
	assert.Zero(t, cond.calls)
}

func TestFormatOutput(t *testing.T) {
	assert.Equal(t, "{\n  \"error\": \"boom\"\n}", FormatOutput(`{"error":"boom"}`, "", 100))
	assert.Equal(t, "out\nerr", FormatOutput("\x1b[1mout\x1b[0m\n", "err", 100))

	long := strings.Repeat("a", 50) + "TAIL"
	got := FormatOutput(long, "", 10)
	assert.Equal(t, "…"+strings.Repeat("a", 6)+"TAIL", got)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Stages: stages(true, false, false), Exec: &scriptedRunner{}}
	_, err := r.Run(ctx, t.TempDir())
	require.ErrorIs(t, err, context.Canceled)
}

func TestFromConfigOrder(t *testing.T) {
	cfg := config.Default().QualityGate
	got := FromConfig(cfg)
	require.Len(t, got, 3)
	assert.Equal(t, []Stage{StageBuild, StageLint, StageTest}, []Stage{got[0].Name, got[1].Name, got[2].Name})
	assert.Equal(t, cfg.Build.Command, got[0].Command)
}

func TestShellRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	dir := t.TempDir()
	res, err := ShellRunner{}.Run(context.Background(), "echo hello; echo oops >&2; exit 3", dir)
	require.NoError(t, err)
	assert.False(t, res.ExitOK)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)

	res, err = ShellRunner{}.Run(context.Background(), "true", dir)
	require.NoError(t, err)
	assert.True(t, res.ExitOK)
}
