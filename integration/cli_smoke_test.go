package integration_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"patchwarden/integration/harness"
)

func TestHelpSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)

	res := harness.MustRun(t, binPath, t.TempDir(), nil, "--help")
	if !strings.Contains(res.Output(), "round-robins over configured auditors") {
		t.Fatalf("expected help output to describe the audit loop\n%s", res.Output())
	}
	for _, cmd := range []string{"init", "run", "plan", "gate", "history"} {
		if !strings.Contains(res.Stdout, cmd) {
			t.Errorf("help does not list %s", cmd)
		}
	}

	res = harness.MustRun(t, binPath, t.TempDir(), nil, "--version")
	if !strings.Contains(res.Stdout, "patchwarden version "+harness.Version) {
		t.Fatalf("version not stamped into the build: %q", res.Stdout)
	}
}

func TestInitThenMockRunSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := filepath.Join(t.TempDir(), "checkout")

	harness.MustRun(t, binPath, t.TempDir(), nil, "init", "--workspace", workspace)
	for _, path := range []string{
		filepath.Join(workspace, "patchwarden.yaml"),
		filepath.Join(workspace, ".patchwarden", ".gitignore"),
		filepath.Join(workspace, ".patchwarden", "artifacts", "runs"),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing init path %s: %v", path, err)
		}
	}
	if res := harness.Run(t, binPath, t.TempDir(), nil, "init", "--workspace", workspace); res.Code == 0 {
		t.Fatal("second init without --force should fail")
	}

	harness.InitGitRepo(t, workspace)
	res := harness.MustRun(t, binPath, workspace, nil, "run", "--executor", "mock", "--log-level", "warn")
	if !strings.Contains(res.Stdout, "no work") {
		t.Fatalf("expected the loop to stop for lack of work\n%s", res.Output())
	}

	auditPath := filepath.Join(workspace, ".patchwarden", "audit.sqlite")
	requireAuditCounts(t, auditPath, map[string]int{
		"run_started":    1,
		"plan_requested": 2,
		"plan_finished":  2,
		"plan_committed": 0,
		"loop_finished":  1,
		"run_finished":   1,
	})
	if subjects := harness.Subjects(t, workspace); len(subjects) != 1 {
		t.Fatalf("mock run must not commit, got %v", subjects)
	}
}

func TestGateSmoke(t *testing.T) {
	binPath := harness.BuildBinary(t)
	workspace := t.TempDir()
	harness.WriteFiles(t, workspace, map[string]string{"patchwarden.yaml": `
quality_gate:
  build: {enabled: true, command: "true"}
  lint: {enabled: true, command: "echo 'lint: unused variable x' >&2; exit 1"}
  test: {enabled: true, command: "touch test-ran"}
`})

	res := harness.Run(t, binPath, workspace, nil, "gate", "--log-level", "error")
	if res.Code == 0 {
		t.Fatalf("expected gate failure\n%s", res.Output())
	}
	if !strings.Contains(res.Stdout, "Quality gate failed at lint") || !strings.Contains(res.Stdout, "unused variable x") {
		t.Fatalf("unexpected gate output\n%s", res.Output())
	}
	if _, err := os.Stat(filepath.Join(workspace, "test-ran")); !os.IsNotExist(err) {
		t.Fatal("test stage must not run after lint fails")
	}
}
