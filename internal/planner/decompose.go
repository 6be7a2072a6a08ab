package planner

import (
	"fmt"
	"strings"

	"patchwarden/internal/steps"
)

// Decompose flattens plan items into ordered steps. Each step carries its item as context.
// Blank step instructions are dropped.
func Decompose(plan *ParsedPlan) []steps.Step {
	if plan == nil || plan.Noop {
		return nil
	}
	var out []steps.Step
	for i, item := range plan.Plan {
		prefix := itemContext(i+1, len(plan.Plan), item)
		for _, instr := range item.Steps {
			if strings.TrimSpace(instr) == "" {
				continue
			}
			out = append(out, steps.Step{
				Instruction: strings.TrimSpace(instr),
				Context:     prefix,
				Files:       append([]string(nil), item.FilesInvolved...),
			})
		}
	}
	for i := range out {
		out[i].Index = i + 1
		out[i].Total = len(out)
	}
	return out
}

func itemContext(n, total int, item PlanItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan item %d of %d: %s\n", n, total, strings.TrimSpace(item.Action))
	if why := strings.TrimSpace(item.Why); why != "" {
		fmt.Fprintf(&b, "Why: %s\n", why)
	}
	if len(item.FilesInvolved) > 0 {
		fmt.Fprintf(&b, "Files involved: %s\n", strings.Join(item.FilesInvolved, ", "))
	}
	if item.Category != "" || item.Risk != "" {
		fmt.Fprintf(&b, "Category: %s, risk: %s\n", orDash(item.Category), orDash(item.Risk))
	}
	if len(item.SupportiveEvidence) > 0 {
		b.WriteString("Evidence:\n")
		for _, e := range item.SupportiveEvidence {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
