package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/protocol"
)

// Version is set at build time with -ldflags "-X ...commands.Version=v1.2.3".
var Version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lvpn %s (hello v%d, %s)\n", Version, protocol.HelloVersion, runtime.Version())
		},
	}
}
