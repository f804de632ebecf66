package main

import (
	"fmt"

	gwversion "github.com/openhab/cloud-tunnelgw/internal/version"
	"github.com/spf13/cobra"
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Print version information and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(gwversion.String(version, commit, date))
		return nil
	},
}
