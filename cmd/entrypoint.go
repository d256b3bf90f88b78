package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

var (
	detectVersionCmd = &cobra.Command{
		Use:   "detect-version <entrypoint-address>",
		Short: "Print the EntryPoint version for an address",
		Long: `Print v0.6 or v0.7 for a known EntryPoint address. Unknown addresses
are reported as v0.6.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lgr, err := logger.New("production")
			if err != nil {
				return err
			}
			version := entrypoint.DetectVersion(args[0], lgr)
			known := ""
			if !entrypoint.IsKnown(args[0]) {
				known = " (unknown address, assumed)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", version, known)
			return nil
		},
	}

	supportedEntryPointsCmd = &cobra.Command{
		Use:   "supported-entrypoints",
		Short: "List the EntryPoints the configured relay accepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			supported, err := a.relay.SupportedEntryPoints(ctx)
			if err != nil {
				return err
			}
			configured := common.HexToAddress(a.cfg.EntryPoint)
			for _, addr := range supported {
				marker := ""
				if addr == configured {
					marker = " *"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s%s\n", addr.Hex(), entrypoint.DetectVersion(addr.Hex(), a.logger), marker)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(detectVersionCmd)
	rootCmd.AddCommand(supportedEntryPointsCmd)
}
