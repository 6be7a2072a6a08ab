package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"testing"
)

// Version is stamped into the binary built for integration tests.
const Version = "integration"

var (
	buildOnce sync.Once
	binPath   string
	buildErr  error
)

// BuildBinary compiles cmd/patchwarden once per test process and returns its path.
func BuildBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		binPath, buildErr = build()
	})
	if buildErr != nil {
		t.Fatalf("build patchwarden: %v", buildErr)
	}
	return binPath
}

func build() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("locate harness source")
	}
	// harness/ -> integration/ -> module root
	root := filepath.Dir(filepath.Dir(filepath.Dir(file)))
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		return "", fmt.Errorf("module root: %w", err)
	}
	dir, err := os.MkdirTemp("", "patchwarden-bin-")
	if err != nil {
		return "", fmt.Errorf("temp dir: %w", err)
	}
	out := filepath.Join(dir, "patchwarden")
	cmd := exec.Command("go", "build", "-trimpath", "-ldflags", "-X main.version="+Version, "-o", out, "./cmd/patchwarden")
	cmd.Dir = root
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("go build: %w\n%s", err, stderr.String())
	}
	return out, nil
}

// Result is the captured outcome of one CLI invocation.
type Result struct {
	Args   []string
	Stdout string
	Stderr string
	Code   int
}

// Output returns stdout followed by stderr.
func (r Result) Output() string {
	return r.Stdout + r.Stderr
}

// Run executes the CLI in workDir with optional environment overrides.
func Run(t *testing.T, binPath, workDir string, env map[string]string, args ...string) Result {
	t.Helper()

	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = mergeEnv(env)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{Args: args}
	if err := cmd.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			t.Fatalf("run %s: %v", binPath, err)
		}
		res.Code = ee.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res
}

// MustRun is Run that fails the test on a non-zero exit.
func MustRun(t *testing.T, binPath, workDir string, env map[string]string, args ...string) Result {
	t.Helper()
	res := Run(t, binPath, workDir, env, args...)
	if res.Code != 0 {
		t.Fatalf("patchwarden %s exit code %d\nstdout:\n%s\nstderr:\n%s", strings.Join(args, " "), res.Code, res.Stdout, res.Stderr)
	}
	return res
}

func mergeEnv(overrides map[string]string) []string {
	env := make(map[string]string, len(overrides))
	for _, entry := range os.Environ() {
		key, val, _ := strings.Cut(entry, "=")
		env[key] = val
	}
	for k, v := range overrides {
		env[k] = v
	}

	merged := make([]string, 0, len(env))
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	sort.Strings(merged)
	return merged
}
