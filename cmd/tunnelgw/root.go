package main

import (
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var configPath string

var rootCommand = &cobra.Command{
	Use:   "tunnelgw",
	Short: "openHAB Cloud tunnel gateway",
	Long: "tunnelgw accepts outbound tunnel connections from sites behind NAT, demultiplexes\n" +
		"client HTTP and WebSocket traffic across them, and dispatches push notifications.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file (optional; every setting also has a TUNNELGW_ env var and a default)")
	rootCommand.AddCommand(serveCommand)
	rootCommand.AddCommand(versionCommand)
}
