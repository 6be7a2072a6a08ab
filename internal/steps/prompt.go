package steps

import (
	"fmt"
	"path/filepath"
	"strings"

	"patchwarden/internal/adapters"
)

// noopPhrases are summary fragments meaning the agent found no work. Matching is a fallback for
// agents that do not set the structured noop flag.
var noopPhrases = []string{
	"nothing to change",
	"nothing to do",
	"no changes needed",
	"no change needed",
	"no changes required",
	"no change required",
	"no-op",
	"already removed",
	"already applied",
	"already fixed",
	"already implemented",
	"already present",
	"already up to date",
}

// IsNoopSummary reports whether summary matches a known no-op phrasing, ignoring case.
func IsNoopSummary(summary string) bool {
	s := strings.ToLower(summary)
	for _, phrase := range noopPhrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

func renderPrompt(step Step, mode adapters.Mode, feedback string, excluded []string, workDir string) string {
	var b strings.Builder
	if mode == adapters.ModeFixRegression {
		fmt.Fprintf(&b, "# Fix regression (step %d of %d)\n\n", step.Index, step.Total)
		b.WriteString("The change made for the step below broke the quality gate or failed review.\n")
		b.WriteString("Fix the failure without reverting the intent of the step.\n\n")
	} else {
		fmt.Fprintf(&b, "# Step %d of %d\n\n", step.Index, step.Total)
		b.WriteString("You are executing one step of a reviewed change plan in this repository.\n\n")
	}
	if c := strings.TrimSpace(step.Context); c != "" {
		fmt.Fprintf(&b, "## Context\n%s\n\n", c)
	}
	fmt.Fprintf(&b, "## Instruction\n%s\n\n", strings.TrimSpace(step.Instruction))
	if f := strings.TrimSpace(feedback); f != "" {
		if mode == adapters.ModeFixRegression {
			b.WriteString("## Failure to fix\n")
		} else {
			b.WriteString("## Feedback from the previous attempt\n")
		}
		b.WriteString(f)
		b.WriteString("\n\n")
	}

	b.WriteString("## Rules\n")
	b.WriteString("- Change only what this step needs. Later steps run after you.\n")
	if len(excluded) > 0 {
		b.WriteString("- Never create, modify or delete anything under:\n")
		for _, p := range excluded {
			fmt.Fprintf(&b, "  - %s\n", displayPath(workDir, p))
		}
	}
	b.WriteString("- List every file you modified in `files_written` and every file you read in `files_touched`.\n")
	b.WriteString("- Put a unified diff of your change in `patch` when you can produce one.\n")
	b.WriteString("- If there is nothing to change, set `noop` to true and `success` to false and say why in `summary`.\n")
	return b.String()
}

func displayPath(workDir, p string) string {
	if rel, err := filepath.Rel(workDir, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return p
}
