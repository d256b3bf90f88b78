package cmd

import (
	"fmt"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/core/orchestrator"
)

var (
	estimateCmd = &cobra.Command{
		Use:   "estimate",
		Short: "Estimate gas for the configured user operation without submitting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts, err := a.orchestratorOptions()
			if err != nil {
				return err
			}
			result, err := orchestrator.New(opts).Estimate(ctx)
			if err != nil {
				printResult(cmd, a.cfg.ChainLabel, result)
				return err
			}

			out := cmd.OutOrStdout()
			if result.Estimate != nil {
				fmt.Fprintln(out, "relay estimate:")
				pp.Fprintln(out, result.Estimate.Wire())
				if result.Estimate.Fallback {
					fmt.Fprintln(out, "(fallback values, the relay did not return a full estimate)")
				}
			}
			fmt.Fprintf(out, "patched operation cost: %s gwei (max)\n", result.EstimatedCostGwei.String())
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(estimateCmd)
}
