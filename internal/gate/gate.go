// Package gate runs the build, lint and test quality gate.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"go.uber.org/zap"

	"patchwarden/internal/config"
	"patchwarden/internal/logging"
)

// DefaultOutputBudget bounds the raw output kept in a failure diagnostic.
const DefaultOutputBudget = 4000

// StageConfig is one configured stage.
type StageConfig struct {
	Name    Stage
	Enabled bool
	Command string
}

// Condenser summarizes failing test output. An empty summary means none is available.
type Condenser interface {
	Condense(ctx context.Context, stdout, stderr string) (string, error)
}

// Recorder observes stage executions.
type Recorder interface {
	ObserveStage(stage string, passed bool, d time.Duration)
}

// StageReport summarizes one executed stage.
type StageReport struct {
	Stage    Stage         `json:"stage"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Verdict is the result of one gate invocation.
type Verdict struct {
	Passed            bool
	FailedStage       Stage
	AdditionalContext string
	Stages            []StageReport
}

// Runner runs enabled stages in order and stops at the first failure. It keeps no state between
// invocations.
type Runner struct {
	Stages       []StageConfig
	Exec         StageRunner
	Condenser    Condenser
	OutputBudget int
	Recorder     Recorder
	Logger       *zap.Logger
}

// FromConfig builds the stage list in fixed order.
func FromConfig(cfg config.QualityGateConfig) []StageConfig {
	return []StageConfig{
		{Name: StageBuild, Enabled: cfg.Build.Enabled, Command: cfg.Build.Command},
		{Name: StageLint, Enabled: cfg.Lint.Enabled, Command: cfg.Lint.Command},
		{Name: StageTest, Enabled: cfg.Test.Enabled, Command: cfg.Test.Command},
	}
}

// New returns a runner over the configured stages using a shell runner.
func New(cfg config.QualityGateConfig, condenser Condenser, logger *zap.Logger) *Runner {
	return &Runner{
		Stages:       FromConfig(cfg),
		Exec:         ShellRunner{},
		Condenser:    condenser,
		OutputBudget: cfg.OutputBudget,
		Logger:       logger,
	}
}

// Enabled reports whether any stage would run. Callers check this first so a disabled gate is
// not reported as a pass.
func (r *Runner) Enabled() bool {
	if r == nil {
		return false
	}
	for _, s := range r.Stages {
		if s.Enabled {
			return true
		}
	}
	return false
}

// Run executes the enabled stages in build, lint, test order. The returned error is non-nil only
// when ctx is done.
func (r *Runner) Run(ctx context.Context, cwd string) (Verdict, error) {
	log := logging.OrNop(r.Logger)
	var verdict Verdict
	for _, stage := range orderStages(r.Stages) {
		if !stage.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return verdict, err
		}
		log.Debug("quality gate stage started", zap.String("stage", string(stage.Name)), zap.String("command", stage.Command))

		res, err := r.Exec.Run(ctx, stage.Command, cwd)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return verdict, ctxErr
		}
		passed := err == nil && res.ExitOK
		verdict.Stages = append(verdict.Stages, StageReport{
			Stage:    stage.Name,
			Passed:   passed,
			ExitCode: res.ExitCode,
			Duration: res.Duration,
		})
		if r.Recorder != nil {
			r.Recorder.ObserveStage(string(stage.Name), passed, res.Duration)
		}
		if passed {
			log.Debug("quality gate stage passed", zap.String("stage", string(stage.Name)), zap.Duration("duration", res.Duration))
			continue
		}

		detail := r.detail(ctx, stage.Name, res, err)
		verdict.FailedStage = stage.Name
		verdict.AdditionalContext = fmt.Sprintf("Quality gate failed at %s: %s", stage.Name, detail)
		log.Info("quality gate failed",
			zap.String("stage", string(stage.Name)),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("duration", res.Duration),
		)
		return verdict, nil
	}
	verdict.Passed = true
	return verdict, nil
}

func (r *Runner) detail(ctx context.Context, stage Stage, res StageResult, runErr error) string {
	if runErr != nil && res.Stdout == "" && res.Stderr == "" {
		return fmt.Sprintf("could not run command: %v", runErr)
	}
	if stage == StageTest && r.Condenser != nil {
		summary, err := r.Condenser.Condense(ctx, res.Stdout, res.Stderr)
		if err != nil {
			logging.OrNop(r.Logger).Warn("test output condenser failed", zap.Error(err))
		} else if s := strings.TrimSpace(summary); s != "" {
			return s
		}
	}
	budget := r.OutputBudget
	if budget <= 0 {
		budget = DefaultOutputBudget
	}
	out := FormatOutput(res.Stdout, res.Stderr, budget)
	if out == "" {
		return fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return out
}

// FormatOutput joins stdout and stderr, strips ANSI escapes, pretty-prints JSON and keeps at most
// budget characters from the end.
func FormatOutput(stdout, stderr string, budget int) string {
	var parts []string
	for _, s := range []string{stdout, stderr} {
		s = strings.TrimSpace(ansi.Strip(s))
		if s == "" {
			continue
		}
		parts = append(parts, prettyJSON(s))
	}
	return tail(strings.Join(parts, "\n"), budget)
}

func prettyJSON(s string) string {
	if !json.Valid([]byte(s)) {
		return s
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return s
	}
	return buf.String()
}

func tail(s string, budget int) string {
	if budget <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= budget {
		return s
	}
	return "…" + string(runes[len(runes)-budget:])
}

func orderStages(stages []StageConfig) []StageConfig {
	out := make([]StageConfig, 0, len(stages))
	for _, name := range Order {
		for _, s := range stages {
			if s.Name == name {
				out = append(out, s)
			}
		}
	}
	return out
}
