package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bgsched/internal/app"
	"bgsched/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent task runs from the history store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(flagConfig, app.WithLogLevel(flagLogLevel))
			if err != nil {
				return fmt.Errorf("load %s: %w", flagConfig, err)
			}
			defer a.Close()

			st := a.Store()
			if st == nil {
				return fmt.Errorf("history: %w (set storage.driver)", storage.ErrDisabled)
			}
			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}
			fmt.Fprintf(out, "%-20s  %-16s  %-18s  %-10s  %s\n", "TASK", "STARTED", "MODE", "TOOK", "RESULT")
			failed := 0
			for _, r := range runs {
				result := "ok"
				if !r.OK() {
					result = "error: " + r.Error
					failed++
				}
				fmt.Fprintf(out, "%-20s  %-16s  %-18s  %-10s  %s\n",
					r.Task, humanize.Time(r.Started), r.Mode, r.Duration.Round(time.Millisecond), result)
			}
			fmt.Fprintf(out, "\n%s runs shown, %s failed\n", humanize.Comma(int64(len(runs))), humanize.Comma(int64(failed)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 = all retained)")
	return cmd
}
