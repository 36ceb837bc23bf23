package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bgsched/internal/app"
)

func newTickCmd() *cobra.Command {
	var drain bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler tick over the configured tasks and exit",
		Long: "tick schedules the configured tasks in a fresh scheduler and runs a single tick.\n" +
			"With --drain it keeps ticking until nothing is queued; task errors do not stop the drain.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(flagConfig, app.WithLogLevel(flagLogLevel))
			if err != nil {
				return fmt.Errorf("load %s: %w", flagConfig, err)
			}
			defer a.Close()

			n, err := a.Tick(cmd.Context(), drain)
			st := a.Snapshot().Stats
			fmt.Fprintf(cmd.OutOrStdout(), "ticks=%d executed=%d failed=%d\n", n, st.Executed, st.Failed)
			return err
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "keep ticking until the queue is empty")
	return cmd
}
