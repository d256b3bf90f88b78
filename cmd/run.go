package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/core/orchestrator"
)

var (
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Build, sign and submit a user operation, then wait for it to settle",
		Long: `Build the configured call into a UserOperation for the Safe account,
estimate gas through the relay, sign it with every configured key, submit it
and poll until the relay reports a receipt.

Use --config=path-to-your-config-file or the PK, GELATO_* variables.`,
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
			result, err := orchestrator.New(opts).Run(ctx)
			printResult(cmd, a.cfg.ChainLabel, result)
			return err
		},
	}
)

func printResult(cmd *cobra.Command, chainLabel string, r *orchestrator.Result) {
	if r == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:      %s\n", r.RunID)
	fmt.Fprintf(out, "state:    %s\n", r.State)
	if r.Version != "" {
		fmt.Fprintf(out, "version:  %s\n", r.Version)
	}
	if r.Operation != nil {
		fmt.Fprintf(out, "sender:   %s\n", r.Operation.Sender.Hex())
		fmt.Fprintf(out, "cost:     %s gwei (max)\n", r.EstimatedCostGwei.String())
	}
	if r.TaskID != "" {
		fmt.Fprintf(out, "task:     %s\n", r.TaskID)
	}
	if r.TaskURL != "" {
		fmt.Fprintf(out, "status:   %s\n", r.TaskURL)
	}
	if s := r.Settlement; s != nil {
		links := s.Links(chainLabel)
		if links.Transaction != "" {
			fmt.Fprintf(out, "tx:       %s\n", links.Transaction)
		}
		if links.UserOp != "" {
			fmt.Fprintf(out, "userop:   %s\n", links.UserOp)
		}
		if s.ActualGasUsed != nil {
			fmt.Fprintf(out, "gas used: %s\n", s.ActualGasUsed.String())
		}
	}
	if r.Err != nil {
		fmt.Fprintf(out, "error:    %v\n", r.Err)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
