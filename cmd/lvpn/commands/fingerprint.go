package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
)

func fingerprintCmd(a *app) *cobra.Command {
	var keyFile string
	cmd := &cobra.Command{
		Use:   "fingerprint [hex-key]",
		Short: "Print the fingerprint of a key",
		Long:  "Print the fingerprint of a key given as an argument, --key-file, --key or LVPN_KEY.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			k, err := a.resolveKey(raw, keyFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("Fingerprint:"), k.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "read the hex key from this file")
	return cmd
}

// resolveKey picks the key from, in order: an explicit hex string, a key
// file, then the configuration.
func (a *app) resolveKey(raw, keyFile string) (key.Key, error) {
	switch {
	case raw != "":
		return key.ParseHex(raw)
	case keyFile != "":
		b, err := os.ReadFile(keyFile)
		if err != nil {
			return key.Key{}, err
		}
		return key.ParseHex(strings.TrimSpace(string(b)))
	}
	k, err := a.cfg.ParsedKey()
	if err != nil {
		return key.Key{}, err
	}
	if k.IsZero() {
		return key.Key{}, fmt.Errorf("no key given: pass one, use --key-file, --key or LVPN_KEY")
	}
	return k, nil
}
