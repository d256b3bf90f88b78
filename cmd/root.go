package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	configPath = "./config/relay.yaml"
	rootCmd    = &cobra.Command{
		Use:   "userop-relay",
		Short: "ERC-4337 UserOperation relay client",
		Long: `Build, sign, estimate and submit ERC-4337 UserOperations for a Safe
account through a sponsoring relay, then wait for settlement.

Such as "userop-relay run" or "userop-relay estimate" and so on
`,
		SilenceUsage: true,
	}
)

func Execute() {
	// ctrl-c aborts a run that is still polling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file; environment variables and .env override it")
}
