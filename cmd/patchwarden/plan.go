package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"patchwarden/internal/planner"
)

func newPlanCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <auditor>",
		Short: "Generate and validate one auditor's plan without applying it",
		Long: `Ask the agent for the named auditor's plan, validate it and print the steps it
decomposes into. Nothing is applied or committed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts, true)
			if err != nil {
				return err
			}
			defer a.close()

			var auditor *planner.Auditor
			auditors := a.auditors()
			for i := range auditors {
				if auditors[i].Name == args[0] {
					auditor = &auditors[i]
					break
				}
			}
			if auditor == nil {
				return fmt.Errorf("unknown auditor %q", args[0])
			}

			p, err := a.planPipeline(nil, false)
			if err != nil {
				return err
			}
			dir := a.ws.RunDir("plan-" + uuid.NewString())
			prepared, reason, err := p.Prepare(cmd.Context(), *auditor, dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if prepared == nil {
				fmt.Fprintf(out, "%s: no plan (%s)\n", auditor.Name, reason)
				return nil
			}
			fmt.Fprintf(out, "%s: %s\n", auditor.Name, prepared.Plan.Title())
			for _, step := range prepared.Steps {
				fmt.Fprintf(out, "\n[%d/%d] %s\n", step.Index, step.Total, strings.TrimSpace(step.Instruction))
				if len(step.Files) > 0 {
					fmt.Fprintf(out, "      files: %s\n", strings.Join(step.Files, ", "))
				}
			}
			fmt.Fprintf(out, "\nartifacts: %s\n", dir)
			return nil
		},
	}
}
