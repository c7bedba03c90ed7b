package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "labctl",
		Short:         "Start, stop and watch Proving Grounds practice labs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the config file (default $LABS_CONFIG or labs.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LABS_TOKEN"), "Token identifying the signed-in user (default $LABS_TOKEN)")

	rootCmd.AddCommand(
		catalogCmd(opts),
		listCmd(opts),
		startCmd(opts),
		stopCmd(opts),
		watchCmd(opts),
		accountsCmd(opts),
		contractsCmd(opts),
		vpnCmd(opts),
		tokenCmd(),
	)
	return rootCmd
}
