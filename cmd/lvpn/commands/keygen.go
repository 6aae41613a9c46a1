package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
)

func keygenCmd(a *app) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random 256-bit tunnel key",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := key.Generate()
			if err != nil {
				return err
			}
			if outFile != "" {
				if err := os.WriteFile(outFile, []byte(k.Hex()+"\n"), 0o600); err != nil {
					return err
				}
				a.log.WithField("file", outFile).Info("key written")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Key:"), k.Hex())
			fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Fingerprint:"), k.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "also write the key to this file (mode 0600)")
	return cmd
}
