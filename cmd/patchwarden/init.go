package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"patchwarden/internal/config"
	"patchwarden/internal/workspace"
)

func newInitCmd(opts *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter patchwarden.yaml",
		Long: `Write a starter configuration with two example auditors and create the
.patchwarden state directory. An existing config is left untouched unless
--force is given.

Examples:
  patchwarden init
  patchwarden init --workspace ~/src/service --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(opts.workspace, 0o755); err != nil {
				return fmt.Errorf("create workspace root: %w", err)
			}
			ws, err := workspace.Resolve(opts.workspace)
			if err != nil {
				return err
			}
			if err := ws.EnsureDirs(); err != nil {
				return err
			}
			path := ws.ConfigPath
			if opts.configPath != "" {
				if path, err = ws.ResolvePath(opts.configPath); err != nil {
					return fmt.Errorf("resolve --config: %w", err)
				}
			}
			if err := config.WriteFile(path, config.Starter(), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "State directory: %s\n", ws.StateDir)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config")
	return cmd
}
