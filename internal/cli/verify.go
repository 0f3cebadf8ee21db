package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"yuim/pkg/envelope"
)

func newVerifyCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [file]",
		Short: "Check the signature of one envelope read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := g.keyring()
			if err != nil {
				return err
			}
			if kr == nil {
				return fmt.Errorf("verify needs --keys or --config")
			}
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(io.LimitReader(in, 1<<20))
			if err != nil {
				return err
			}
			env, err := envelope.Decode(raw)
			if err != nil {
				return err
			}
			if env.V != envelope.Version {
				return fmt.Errorf("unsupported envelope version %d", env.V)
			}
			if err := envelope.Verify(env, kr); err != nil {
				return fmt.Errorf("txn %s: %w", env.TxnID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok kid=%s t=%s room_id=%s txn_id=%s\n", env.Kid, env.T, env.RoomID, env.TxnID)
			return nil
		},
	}
}
