package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newGateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Run the quality gate once",
		Long: `Run the enabled build, lint and test stages against the workspace, stopping at
the first failure. Exits non-zero when the gate fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, false)
			if err != nil {
				return err
			}
			defer a.close()

			g, err := a.gate()
			if err != nil {
				return err
			}
			if !g.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "quality gate disabled")
				return nil
			}
			verdict, err := g.Run(cmd.Context(), a.ws.Root)
			if err != nil {
				return err
			}
			for _, s := range verdict.Stages {
				state := "passed"
				if !s.Passed {
					state = "failed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-5s %s (%s)\n", s.Stage, state, s.Duration.Round(time.Millisecond))
			}
			a.sink.Emit("cli", "quality_gate", map[string]any{
				"passed":       verdict.Passed,
				"failed_stage": string(verdict.FailedStage),
			})
			if !verdict.Passed {
				fmt.Fprintln(cmd.OutOrStdout(), verdict.AdditionalContext)
				return errors.New("quality gate failed")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "quality gate passed")
			return nil
		},
	}
}
