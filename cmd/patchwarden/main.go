// Package main implements the patchwarden CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const appName = "patchwarden"

var version = "dev"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	workspace  string
	configPath string
	logLevel   string
	executor   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Audit a repository with AI agents and land verified changes",
		Long: `patchwarden round-robins over configured auditors. Each auditor asks an agent
for a change plan, the plan is validated and split into steps, and every step is
applied, reviewed and checked by the build/lint/test quality gate before the plan
is committed.

Examples:
  # Write a starter patchwarden.yaml
  patchwarden init

  # Run the audit loop against the current checkout
  patchwarden run

  # Preview the plan of one auditor without applying it
  patchwarden plan security`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", ".", "Path to the checkout to work on")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: <workspace>/patchwarden.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level")
	root.PersistentFlags().StringVar(&opts.executor, "executor", "", "Override agent.executor (codex or mock)")

	root.AddCommand(
		newInitCmd(opts),
		newRunCmd(opts),
		newPlanCmd(opts),
		newGateCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}
