package main

import (
	"github.com/spf13/cobra"
)

var adminAddr string

var rootCommand = &cobra.Command{
	Use:   "tunnelgwctl",
	Short: "Operator CLI for a tunnelgw node's admin surface",
}

func init() {
	rootCommand.PersistentFlags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:8081", "tunnelgw node's admin listen address")
	rootCommand.AddCommand(sessionsCommand)
}
