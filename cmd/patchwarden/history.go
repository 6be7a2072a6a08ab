package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"patchwarden/internal/ledger"
	"patchwarden/internal/report"
	"patchwarden/internal/workspace"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var limit int
	var runID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List committed plans from previous runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := workspace.Resolve(opts.workspace)
			if err != nil {
				return err
			}
			store, err := ledger.Open(ws.LedgerPath)
			if err != nil {
				return err
			}
			defer store.Close()

			plans, err := store.CommittedPlans(runID, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.History(plans))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of plans to list (0 = all)")
	cmd.Flags().StringVar(&runID, "run", "", "Only list plans committed by this run")
	return cmd
}
