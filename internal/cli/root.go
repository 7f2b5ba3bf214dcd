package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mossy-p/repsync/internal/logging"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server   string
	user     string
	logLevel string
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "repclient",
		Short:         "repclient: count reps from pose frames and work out together",
		Long:          "repclient reads pose frames as JSON lines, counts repetitions locally and can share the count with a repsync session.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.Setup(logging.LoggerSetupParams{LogLevel: opts.logLevel})
			log.SetOutput(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "repsync server base URL")
	flags.StringVar(&opts.user, "user", os.Getenv("USER"), "user name to log in with")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newCountCmd(opts),
		newHostCmd(opts),
		newJoinCmd(opts),
	)

	return rootCmd
}
