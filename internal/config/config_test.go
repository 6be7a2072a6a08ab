package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
auditors:
  - name: security
    directive: Find and fix injection risks
  - name: performance
    directive_file: auditors/performance.md
excluded_paths: [vendor]
agent:
  executor: mock
  model: gpt-5-codex
  fix_reasoning: high
  timeout: 5m
limits:
  max_regression_attempts: 2
quality_gate:
  lint:
    enabled: true
    command: golangci-lint run
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "patchwarden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(writeConfig(t, dir, sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Auditors, 2)
	assert.Equal(t, "security", cfg.Auditors[0].Name)
	assert.Equal(t, []string{"vendor"}, cfg.ExcludedPaths)
	assert.Equal(t, "mock", cfg.Agent.Executor)
	assert.Equal(t, "codex", cfg.Agent.Command, "default kept")
	assert.Equal(t, "high", cfg.Agent.FixReasoning)
	assert.Equal(t, 5*time.Minute, cfg.Agent.Timeout)
	assert.Equal(t, 2, cfg.Limits.MaxRegressionAttempts)
	assert.Equal(t, 8, cfg.Limits.MaxThreadAttempts, "default kept")
	assert.True(t, cfg.QualityGate.Lint.Enabled)
	assert.Equal(t, "golangci-lint run", cfg.QualityGate.Lint.Command)
	assert.True(t, cfg.QualityGate.Build.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATCHWARDEN_AGENT_MODEL", "o4-mini")
	t.Setenv("PATCHWARDEN_LIMITS_MAX_THREAD_ATTEMPTS", "4")
	t.Setenv("PATCHWARDEN_QUALITY_GATE_TEST_COMMAND", "make test")

	cfg, err := Load(writeConfig(t, dir, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "o4-mini", cfg.Agent.Model)
	assert.Equal(t, 4, cfg.Limits.MaxThreadAttempts)
	assert.Equal(t, "make test", cfg.QualityGate.Test.Command)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Limits, cfg.Limits)
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"PATCHWARDEN_AGENT_MODEL":                    "agent.model",
		"PATCHWARDEN_AGENT_FIX_REASONING":            "agent.fix_reasoning",
		"PATCHWARDEN_QUALITY_GATE_OUTPUT_BUDGET":     "quality_gate.output_budget",
		"PATCHWARDEN_QUALITY_GATE_BUILD_ENABLED":     "quality_gate.build.enabled",
		"PATCHWARDEN_LIMITS_MAX_REGRESSION_ATTEMPTS": "limits.max_regression_attempts",
		"PATCHWARDEN_NOTIFICATIONS":                  "notifications",
		"PATCHWARDEN_METRICS_TEXTFILE":               "metrics_textfile",
	}
	for in, want := range cases {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestResolveDirectives(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "auditors"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "auditors", "performance.md"), []byte("  Reduce allocations\n"), 0o644))

	cfg, err := Load(writeConfig(t, dir, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.ResolveDirectives(dir))
	assert.Equal(t, "Reduce allocations", cfg.Auditors[1].Directive)
	assert.Equal(t, "Find and fix injection risks", cfg.Auditors[0].Directive)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one auditor")

	cfg.Auditors = []Auditor{{Name: "security", Directive: "x"}, {Name: "security", Directive: "y"}}
	cfg.QualityGate.Lint = StageConfig{Enabled: true}
	cfg.Condenser.Provider = "openai"
	cfg.Limits.MaxValidationRetries = 0
	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"duplicate name", "quality_gate.lint", "condenser.model", "max_validation_retries"} {
		assert.Contains(t, err.Error(), want)
	}

	ok := Default()
	ok.Auditors = []Auditor{{Name: "security", Directive: "x"}}
	assert.NoError(t, ok.Validate())
}

func TestStarterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patchwarden.yaml")
	require.NoError(t, WriteFile(path, Starter(), false))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Starter().Auditors, cfg.Auditors)
	assert.Equal(t, 20*time.Minute, cfg.Agent.Timeout)
	assert.Equal(t, "go test ./...", cfg.QualityGate.Test.Command)

	err = WriteFile(path, Starter(), false)
	assert.ErrorIs(t, err, ErrConfigExists)
	assert.NoError(t, WriteFile(path, Default(), true))
}
