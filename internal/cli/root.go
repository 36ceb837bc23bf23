package cli

import (
	"os"

	"github.com/spf13/cobra"

	logx "bgsched/pkg/logx"
)

var (
	flagConfig   string
	flagDebug    bool
	flagLogLevel string

	logger logx.Logger
)

// defaultConfig returns the default config path, checking BGSCHED_CONFIG first.
func defaultConfig() string {
	if s := os.Getenv("BGSCHED_CONFIG"); s != "" {
		return s
	}
	return "./bgsched.yaml"
}

// NewRootCmd creates the root cobra command for the bgsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bgsched",
		Short: "bgsched runs background tasks on a cooperative scheduler",
		Long: "bgsched schedules immediate, delayed and periodic tasks and runs them one per tick,\n" +
			"driven by a timer, a cron expression, systemd or an external trigger.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			level := flagLogLevel
			if level == "" {
				level = "info"
			}
			logger = logx.NewWriter(cmd.ErrOrStderr(), level).With(logx.String("comp", "cli"))
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfig(), "config file, JSON or YAML (or BGSCHED_CONFIG env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newTickCmd(),
		newValidateCmd(),
		newHistoryCmd(),
	)

	return root
}
