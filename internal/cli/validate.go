package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bgsched/internal/config"
	"bgsched/internal/task/scheduler"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and list the tasks it declares",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(flagConfig, logger).Load()
			if err != nil {
				return fmt.Errorf("invalid config %s: %w", flagConfig, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", flagConfig)
			fmt.Fprintf(out, "signal=%s backend=%s admin=%v\n", cfg.Executor.SignalKind(), cfg.Backend.BackendKind(), cfg.Admin.Enabled)
			if len(cfg.Tasks) == 0 {
				fmt.Fprintln(out, "No tasks declared.")
				return nil
			}
			fmt.Fprintf(out, "%-24s  %-6s  %s\n", "TASK", "KIND", "MODE")
			for _, t := range cfg.Tasks {
				// Validate already accepted the mode.
				m, _ := scheduler.ParseMode(t.Mode)
				fmt.Fprintf(out, "%-24s  %-6s  %s\n", t.Name, t.Kind, m)
			}
			return nil
		},
	}
}
