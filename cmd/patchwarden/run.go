package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"patchwarden/internal/auditloop"
	"patchwarden/internal/ledger"
	"patchwarden/internal/notify"
	"patchwarden/internal/planner"
	"patchwarden/internal/report"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var maxRounds int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the audit loop until no auditor finds work",
		Long: `Round-robin over the configured auditors. Each turn obtains a plan, validates
it, applies its steps through the quality gate and commits the result. The loop
stops after a full round in which no auditor produced a plan.

The first SIGINT or SIGTERM lets the current auditor turn finish and then stops;
a second one cancels the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, true)
			if err != nil {
				return err
			}
			defer a.close()
			if cmd.Flags().Changed("max-rounds") {
				a.cfg.Limits.MaxRounds = maxRounds
			}
			return runLoop(cmd, a)
		},
	}
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 0, "Stop after this many full rounds (0 = no cap)")
	return cmd
}

func runLoop(cmd *cobra.Command, a *app) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := watchSignals(cancel, a.log)
	defer stopSignals()
	auditloop.ResetExit()

	store, err := ledger.Open(a.ws.LedgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	stepRunner, err := a.stepPipeline()
	if err != nil {
		return err
	}
	plans, err := a.planPipeline(stepRunner, true)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	runDir := a.ws.RunDir(runID)
	log := a.log.With(zap.String("run_id", runID))
	if err := store.StartRun(runID, time.Now()); err != nil {
		return err
	}
	startPayload := map[string]any{"run_id": runID, "workspace": a.ws.Root, "executor": a.executor.Name()}
	if a.repo != nil {
		startPayload["branch"] = a.repo.Branch()
		startPayload["head"] = a.repo.Head()
	}
	a.sink.Emit("cli", "run_started", startPayload)
	log.Info("run started", zap.String("artifacts", runDir))

	res, err := auditloop.Run(ctx, auditloop.Config{
		RunID:        runID,
		Auditors:     a.auditors(),
		Plans:        plans,
		Ledger:       store,
		ArtifactsDir: runDir,
		MaxRounds:    a.cfg.Limits.MaxRounds,
		Audit:        a.sink,
		Logger:       a.log.Named("loop"),
	})
	status := "completed"
	if err != nil {
		status = "failed"
	}
	summary := map[string]any{
		"turns":     res.Turns,
		"committed": len(res.Committed),
		"failed":    res.Count(planner.StatusFailed),
		"stopped":   string(res.ExitReason),
	}
	if ferr := store.FinishRun(runID, status, summary); ferr != nil {
		log.Warn("finish run record", zap.Error(ferr))
	}
	a.sink.Emit("cli", "run_finished", summary)
	if err != nil {
		return err
	}

	if path, werr := report.WriteFile(runDir, res); werr != nil {
		log.Warn("write run report", zap.Error(werr))
	} else {
		log.Debug("run report written", zap.String("path", path))
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Summary(res))

	n := &notify.Notifier{Enabled: a.cfg.Notifications}
	title, message := notify.FormatRunComplete(notify.RunSummary{
		Turns:     res.Turns,
		Committed: len(res.Committed),
		Failed:    res.Count(planner.StatusFailed),
		Reason:    string(res.ExitReason),
	})
	if err := n.Send(title, message); err != nil {
		log.Warn("send notification", zap.Error(err))
	}
	return nil
}

// watchSignals requests a graceful exit on the first signal and cancels on the second.
func watchSignals(cancel context.CancelFunc, log *zap.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			log.Warn("exit requested; finishing the current auditor turn")
			auditloop.RequestExit()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			log.Warn("second signal; canceling")
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
