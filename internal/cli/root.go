package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	serverURL  string
	local      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "tiermem",
		Short:         "Multi-resolution memory for long-lived characters",
		Long:          "tiermem keeps per-entity memories at daily, 10-day, 100-day, 1000-day and archive resolution, consolidated by sleep cycles.",
		SilenceUsage:  true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config file (YAML)")
	pf.StringVar(&opts.serverURL, "server", "", "Server URL (default $TIERMEM_URL or http://127.0.0.1:37778)")
	pf.BoolVar(&opts.local, "local", false, "Operate on the database directly instead of a running server")

	cmd.AddCommand(
		newVersionCmd(),
		newServeCmd(opts),
		newEntityCmd(opts),
		newRecordCmd(opts),
		newIngestCmd(opts),
		newSleepCmd(opts),
		newSimulateCmd(opts),
		newContextCmd(opts),
		newSessionCmd(opts),
	)
	return cmd
}

// Execute runs the CLI. An interrupt cancels the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}
