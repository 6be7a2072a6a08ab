// Package report renders end-of-run summaries.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"patchwarden/internal/auditloop"
	"patchwarden/internal/ledger"
	"patchwarden/internal/planner"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func statusBadge(s planner.Status) string {
	switch s {
	case planner.StatusSuccess:
		return okStyle.Render("[✓]")
	case planner.StatusNoPlan:
		return warnStyle.Render("[-]")
	}
	return failStyle.Render("[✗]")
}

// Summary renders the result of an audit loop run.
func Summary(res auditloop.Result) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" patchwarden run " + res.RunID + " "))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("Turns:"), valueStyle.Render(fmt.Sprint(res.Turns)),
		labelStyle.Render("Committed:"), valueStyle.Render(fmt.Sprint(len(res.Committed))),
		labelStyle.Render("Stopped:"), valueStyle.Render(strings.ReplaceAll(string(res.ExitReason), "_", " ")),
	)

	if len(res.Outcomes) > 0 {
		b.WriteString(sectionStyle.Render("┃ Auditor turns"))
		b.WriteString("\n")
		for i, o := range res.Outcomes {
			line := fmt.Sprintf("  %2d %s %s", i+1, statusBadge(o.Status), valueStyle.Render(o.Auditor))
			if o.Reason != "" {
				line += " " + dimStyle.Render(truncate(o.Reason, 100))
			}
			b.WriteString(line + "\n")
		}
	}

	if len(res.Committed) > 0 {
		b.WriteString(sectionStyle.Render("┃ Committed plans"))
		b.WriteString("\n")
		for _, c := range res.Committed {
			fmt.Fprintf(&b, "  %s %s %s\n", okStyle.Render(shortHash(c.Commit)), labelStyle.Render(c.Auditor+":"), c.Name)
			for _, f := range c.Files {
				b.WriteString("      " + dimStyle.Render(f) + "\n")
			}
		}
	}
	return containerStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// History renders committed plans read back from the ledger.
func History(plans []ledger.CommittedPlan) string {
	if len(plans) == 0 {
		return dimStyle.Render("no committed plans")
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(" committed plans "))
	b.WriteString("\n")
	for _, p := range plans {
		fmt.Fprintf(&b, "%s %s %s %s\n",
			dimStyle.Render(p.CreatedAt.Local().Format(time.DateTime)),
			okStyle.Render(shortHash(p.Commit)),
			labelStyle.Render(p.Auditor+":"),
			p.Name,
		)
		if len(p.Files) > 0 {
			b.WriteString("    " + dimStyle.Render(strings.Join(p.Files, ", ")) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Export is the YAML document written for a finished run.
type Export struct {
	RunID     string                    `yaml:"run_id"`
	Turns     int                       `yaml:"turns"`
	Stopped   string                    `yaml:"stopped"`
	Outcomes  []ExportOutcome           `yaml:"outcomes,omitempty"`
	Committed []auditloop.CommittedPlan `yaml:"committed,omitempty"`
}

// ExportOutcome is one auditor turn in an Export.
type ExportOutcome struct {
	Auditor string `yaml:"auditor"`
	Status  string `yaml:"status"`
	Reason  string `yaml:"reason,omitempty"`
	Steps   int    `yaml:"steps"`
	Commit  string `yaml:"commit,omitempty"`
}

// NewExport converts a loop result into its export form.
func NewExport(res auditloop.Result) Export {
	exp := Export{
		RunID:     res.RunID,
		Turns:     res.Turns,
		Stopped:   string(res.ExitReason),
		Committed: res.Committed,
	}
	for _, o := range res.Outcomes {
		exp.Outcomes = append(exp.Outcomes, ExportOutcome{
			Auditor: o.Auditor,
			Status:  string(o.Status),
			Reason:  o.Reason,
			Steps:   len(o.Steps),
			Commit:  o.Commit,
		})
	}
	return exp
}

// WriteYAML encodes the run export to w.
func WriteYAML(w io.Writer, res auditloop.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewExport(res)); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the run export as report.yaml under dir and returns its path.
func WriteFile(dir string, res auditloop.Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure report dir: %w", err)
	}
	path := filepath.Join(dir, "report.yaml")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := WriteYAML(f, res); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	return path, nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
