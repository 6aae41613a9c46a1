package main

import (
	"os"

	"github.com/sasukeuchiha14/lightweight-vpn/cmd/lvpn/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
