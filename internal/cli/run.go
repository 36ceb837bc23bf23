package cli

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bgsched/internal/app"
	logx "bgsched/pkg/logx"
)

func newRunCmd() *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(flagConfig, app.WithLogLevel(flagLogLevel))
			if err != nil {
				return fmt.Errorf("load %s: %w", flagConfig, err)
			}

			sigCh := make(chan os.Signal, 1)
			ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer ossignal.Stop(sigCh)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := a.Start(ctx); err != nil {
				sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
				_ = a.Stop(sctx, app.StopFatalError)
				scancel()
				return fmt.Errorf("start: %w", err)
			}

			var reason app.StopReason
			select {
			case s := <-sigCh:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			case <-ctx.Done():
				reason = app.StopAppStop
			}

			sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
			defer scancel()
			if err := a.Stop(sctx, reason); err != nil {
				logger.Warn("stop failed", logx.Any("err", err))
			}
			if reason == app.StopFatalError {
				return fmt.Errorf("stopped on fatal error: %w", a.Err())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}
