package harness

import (
	"os"
	"path/filepath"
	"testing"
)

// fakeCodex answers each turn by its prompt heading. The docs auditor proposes a single step
// that creates NOTES.md until the file exists; every other auditor reports no work.
const fakeCodex = `#!/bin/sh
out=""
dir=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output-last-message) out="$2"; shift ;;
    -C) dir="$2"; shift ;;
  esac
  shift
done
prompt=$(cat)
echo '{"type":"thread.started","thread_id":"th-fake"}'
case "$prompt" in
  "# Auditor: docs"*)
    if [ -f "$dir/NOTES.md" ]; then
      printf '%s' '{"name":"","noop":true,"reason":"notes already present","plan":[]}' > "$out"
    else
      printf '%s' '{"name":"Add contributor notes","noop":false,"reason":"","plan":[{"action":"Add NOTES.md","why":"contributors have no notes","files_involved":["NOTES.md"],"steps":["Create NOTES.md with a short contributor note"],"category":"docs","risk":"low","supportive_evidence":["README.md has no contributing section"]}]}' > "$out"
    fi
    ;;
  "# Auditor:"*)
    printf '%s' '{"name":"","noop":true,"reason":"nothing to do","plan":[]}' > "$out"
    ;;
  "# Plan review"*|"# Step review"*)
    printf '%s' '{"valid":true,"reason":"looks right"}' > "$out"
    ;;
  "# Step"*|"# Fix regression"*)
    printf 'Run the quality gate before sending changes.\n' > "$dir/NOTES.md"
    printf '%s' '{"success":true,"summary":"created NOTES.md","details":"","files_touched":[],"files_written":["NOTES.md"],"patch":"","noop":false}' > "$out"
    ;;
esac
echo '{"type":"turn.completed"}'
`

// FakeAgent writes a codex stand-in script and returns its path.
func FakeAgent(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codex")
	if err := os.WriteFile(path, []byte(fakeCodex), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}
