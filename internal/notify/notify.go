package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier sends desktop notifications.
type Notifier struct {
	Enabled bool
	// GOOS overrides runtime.GOOS when set.
	GOOS string
	// Exec runs the notification command. Defaults to running it with os/exec.
	Exec func(name string, args ...string) error
}

// Send sends a desktop notification.
// On macOS, uses osascript. On other platforms, this is a no-op.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	goos := n.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos != "darwin" {
		return nil
	}

	run := n.Exec
	if run == nil {
		run = func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		}
	}
	if err := run("osascript", "-e", appleScript(title, message)); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func appleScript(title, message string) string {
	title = escape(title)
	message = escape(message)
	return fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// RunSummary is the end-of-run data a notification reports.
type RunSummary struct {
	Turns     int
	Committed int
	Failed    int
	Reason    string
}

// FormatRunComplete formats the notification sent when the audit loop stops.
func FormatRunComplete(s RunSummary) (title, message string) {
	switch {
	case s.Failed > 0 && s.Committed == 0:
		title = "⚠️ Patchwarden Run Failed"
		message = fmt.Sprintf("%d plan(s) failed over %d turn(s)", s.Failed, s.Turns)
	case s.Committed > 0:
		title = "✅ Patchwarden Run Complete"
		message = fmt.Sprintf("%d plan(s) committed over %d turn(s)", s.Committed, s.Turns)
		if s.Failed > 0 {
			message += fmt.Sprintf(", %d failed", s.Failed)
		}
	default:
		title = "💤 Patchwarden Found No Work"
		message = fmt.Sprintf("no auditor produced a plan in %d turn(s)", s.Turns)
	}
	if s.Reason != "" && s.Reason != "no_work" {
		message += " (" + strings.ReplaceAll(s.Reason, "_", " ") + ")"
	}
	return title, message
}
