package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

var (
	encodeTarget string

	encodeCmd = &cobra.Command{
		Use:   "encode [file]",
		Short: "Convert a JSON user operation between the v0.6 and v0.7 wire shapes",
		Long: `Read a user operation in either wire shape from file (or stdin) and print
it in the shape of --to. Useful to inspect how initCode and paymasterAndData
are split for v0.7.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if len(args) == 1 {
				raw, err = os.ReadFile(args[0])
			} else {
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			op, from, err := userop.FromWire(raw)
			if err != nil {
				return err
			}
			to := entrypoint.Version(encodeTarget)
			if to != entrypoint.V06 && to != entrypoint.V07 {
				return fmt.Errorf("unknown target version %q, want v0.6 or v0.7", encodeTarget)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "decoded %s operation, encoding as %s\n", from, to)
			pp.Fprintln(cmd.OutOrStdout(), userop.ToWire(op, to))
			return nil
		},
	}
)

func init() {
	encodeCmd.Flags().StringVar(&encodeTarget, "to", string(entrypoint.V07), "target wire shape (v0.6 or v0.7)")
	rootCmd.AddCommand(encodeCmd)
}
