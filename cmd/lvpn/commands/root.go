package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/config"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/logging"
)

// app is the state shared by every subcommand, filled in PersistentPreRunE.
type app struct {
	cfgFile      string
	envFile      string
	outputFormat string

	v         *viper.Viper
	cfg       config.Config
	log       *logrus.Logger
	formatter Formatter
}

func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		return err
	}
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "lvpn",
		Short: "Peer-to-peer encrypted tunnel",
		Long: `lvpn connects two endpoints with an encrypted tunnel secured by a shared
256-bit key. One side listens, the other dials; both must hold the same key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ~/.lvpn/config.yaml)")
	pf.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading LVPN_* variables")
	pf.StringVarP(&a.outputFormat, "output", "o", "table", "stats output format: table, json, yaml")
	pf.Int("port", config.DefaultPort, "tunnel port, identical on both sides")
	pf.String("transport", "tcp", "transport: tcp or quic")
	pf.String("key", "", "shared key as 64 hex digits")
	pf.Bool("compression", false, "offer LZ4 payload compression")
	pf.String("log-level", "info", "log level")
	pf.String("log-format", "text", "log format: text or json")

	for flag, k := range map[string]string{
		"port":        "port",
		"transport":   "transport",
		"key":         "key",
		"compression": "compression",
		"log-level":   "log_level",
		"log-format":  "log_format",
	} {
		_ = a.v.BindPFlag(k, pf.Lookup(flag))
	}

	root.AddCommand(
		keygenCmd(a),
		fingerprintCmd(a),
		listenCmd(a),
		dialCmd(a),
		versionCmd(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envFile, err)
		}
	}

	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.NewWithOutput(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.log = log
	a.formatter = NewFormatter(a.outputFormat)
	return nil
}
