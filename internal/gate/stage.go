package gate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Stage names a quality gate stage.
type Stage string

const (
	StageBuild Stage = "build"
	StageLint  Stage = "lint"
	StageTest  Stage = "test"
)

// Order is the fixed execution order of stages.
var Order = []Stage{StageBuild, StageLint, StageTest}

// StageResult is the outcome of one stage command.
type StageResult struct {
	ExitOK   bool
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// StageRunner executes one stage command in cwd.
type StageRunner interface {
	Run(ctx context.Context, command, cwd string) (StageResult, error)
}

// ShellRunner runs stage commands through a POSIX shell.
type ShellRunner struct {
	// Shell defaults to "sh".
	Shell string
	Env   []string
}

// Run executes command with "<shell> -c". A non-zero exit is reported in the result, not as an
// error; errors mean the command could not be run at all.
func (r ShellRunner) Run(ctx context.Context, command, cwd string) (StageResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = cwd
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}

	start := time.Now()
	err := cmd.Run()
	res := StageResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		res.ExitOK = true
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	return res, err
}
