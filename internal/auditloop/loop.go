// Package auditloop round-robins over auditors until a full round yields no work.
package auditloop

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"patchwarden/internal/audit"
	"patchwarden/internal/ledger"
	"patchwarden/internal/logging"
	"patchwarden/internal/planner"
)

var exitRequested atomic.Bool

// RequestExit asks a running loop to stop before its next auditor turn.
func RequestExit() { exitRequested.Store(true) }

// ExitRequested reports whether an exit was requested.
func ExitRequested() bool { return exitRequested.Load() }

// ResetExit clears a previous exit request.
func ResetExit() { exitRequested.Store(false) }

// ExitReason explains why the loop stopped.
type ExitReason string

const (
	ExitNoWork        ExitReason = "no_work"
	ExitRequestedStop ExitReason = "exit_requested"
	ExitMaxRounds     ExitReason = "max_rounds"
	ExitCanceled      ExitReason = "canceled"
)

// PlanRunner runs one auditor turn.
type PlanRunner interface {
	Run(ctx context.Context, auditor planner.Auditor, artifactsDir string) planner.Outcome
}

// Ledger persists turn results and the round-robin cursor.
type Ledger interface {
	Cursor() (string, error)
	SetCursor(auditor string) error
	RecordOutcome(o ledger.PlanOutcome) error
	RecordCommit(p ledger.CommittedPlan) error
}

// Config wires a loop run.
type Config struct {
	RunID    string
	Auditors []planner.Auditor
	Plans    PlanRunner
	// Ledger may be nil, which disables persistence and cursor resume.
	Ledger Ledger
	// ArtifactsDir receives one directory per auditor turn.
	ArtifactsDir string
	// MaxRounds caps full rounds over the auditors; zero means no cap.
	MaxRounds int

	Audit  audit.Sink
	Logger *zap.Logger
}

// CommittedPlan summarizes a plan whose changes were committed.
type CommittedPlan struct {
	Auditor string   `yaml:"auditor" json:"auditor"`
	Name    string   `yaml:"name" json:"name"`
	Commit  string   `yaml:"commit" json:"commit"`
	Files   []string `yaml:"files,omitempty" json:"files,omitempty"`
}

// Result aggregates a loop run.
type Result struct {
	RunID      string
	Turns      int
	ExitReason ExitReason
	Outcomes   []planner.Outcome
	Committed  []CommittedPlan
}

// Count returns how many turns ended with status.
func (r Result) Count(status planner.Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Run processes auditors in order, starting after the ledger cursor, until a full round of
// consecutive no-plan turns, an exit request, the round cap or context cancellation.
// Partial results are returned in every case.
func Run(ctx context.Context, cfg Config) (Result, error) {
	res := Result{RunID: cfg.RunID}
	if len(cfg.Auditors) == 0 {
		return res, errors.New("no auditors configured")
	}
	if cfg.Plans == nil {
		return res, errors.New("plan runner is required")
	}
	sink := audit.OrNop(cfg.Audit)
	log := logging.OrNop(cfg.Logger).With(zap.String("run_id", cfg.RunID))

	n := len(cfg.Auditors)
	next := startIndex(cfg, log)
	consecutiveNoPlan := 0

	sink.Emit("loop", "loop_started", map[string]any{
		"run_id":   cfg.RunID,
		"auditors": n,
		"start":    cfg.Auditors[next].Name,
	})

	for {
		if ExitRequested() {
			res.ExitReason = ExitRequestedStop
			break
		}
		if ctx.Err() != nil {
			res.ExitReason = ExitCanceled
			break
		}
		if cfg.MaxRounds > 0 && res.Turns >= cfg.MaxRounds*n {
			res.ExitReason = ExitMaxRounds
			break
		}

		auditor := cfg.Auditors[next]
		res.Turns++
		log.Info("auditor turn", zap.String("auditor", auditor.Name), zap.Int("turn", res.Turns))

		out := cfg.Plans.Run(ctx, auditor, turnDir(cfg.ArtifactsDir, res.Turns, auditor.Name))
		res.Outcomes = append(res.Outcomes, out)

		switch out.Status {
		case planner.StatusNoPlan:
			consecutiveNoPlan++
		default:
			consecutiveNoPlan = 0
		}
		if out.Status == planner.StatusSuccess && out.Commit != "" {
			res.Committed = append(res.Committed, CommittedPlan{
				Auditor: auditor.Name,
				Name:    planTitle(out),
				Commit:  out.Commit,
				Files:   out.FilesChanged(),
			})
		}
		record(cfg, out, log)

		next = (next + 1) % n
		if consecutiveNoPlan >= n {
			res.ExitReason = ExitNoWork
			break
		}
	}

	log.Info("audit loop finished",
		zap.String("reason", string(res.ExitReason)),
		zap.Int("turns", res.Turns),
		zap.Int("committed", len(res.Committed)),
	)
	sink.Emit("loop", "loop_finished", map[string]any{
		"run_id":    cfg.RunID,
		"reason":    string(res.ExitReason),
		"turns":     res.Turns,
		"committed": len(res.Committed),
	})
	return res, nil
}

func startIndex(cfg Config, log *zap.Logger) int {
	if cfg.Ledger == nil {
		return 0
	}
	cursor, err := cfg.Ledger.Cursor()
	if err != nil {
		log.Warn("read auditor cursor", zap.Error(err))
		return 0
	}
	for i, a := range cfg.Auditors {
		if a.Name == cursor {
			return (i + 1) % len(cfg.Auditors)
		}
	}
	return 0
}

func record(cfg Config, out planner.Outcome, log *zap.Logger) {
	if cfg.Ledger == nil {
		return
	}
	if err := cfg.Ledger.RecordOutcome(ledger.PlanOutcome{
		RunID:   cfg.RunID,
		Auditor: out.Auditor,
		Status:  string(out.Status),
		Reason:  out.Reason,
		Steps:   len(out.Steps),
		Commit:  out.Commit,
	}); err != nil {
		log.Warn("record plan outcome", zap.Error(err))
	}
	if out.Status == planner.StatusSuccess && out.Commit != "" {
		if err := cfg.Ledger.RecordCommit(ledger.CommittedPlan{
			RunID:   cfg.RunID,
			Auditor: out.Auditor,
			Name:    planTitle(out),
			Commit:  out.Commit,
			Files:   out.FilesChanged(),
		}); err != nil {
			log.Warn("record committed plan", zap.Error(err))
		}
	}
	if err := cfg.Ledger.SetCursor(out.Auditor); err != nil {
		log.Warn("update auditor cursor", zap.Error(err))
	}
}

func planTitle(out planner.Outcome) string {
	if out.Plan != nil {
		if t := out.Plan.Title(); t != "" {
			return t
		}
	}
	return out.Auditor
}

func turnDir(base string, turn int, auditor string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(base, fmt.Sprintf("%02d-%s", turn, safeName(auditor)))
}

func safeName(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, strings.TrimSpace(name))
	if s == "" {
		return "auditor"
	}
	return s
}
