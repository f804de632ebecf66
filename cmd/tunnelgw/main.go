// Command tunnelgw runs one cluster node of the openHAB Cloud tunnel gateway: it accepts
// site tunnel attachments, dispatches client HTTP/WebSocket traffic across them, and
// fans out push notifications.
package main

import (
	"fmt"
	"os"

	"github.com/openhab/cloud-tunnelgw/internal/cmdutil"
)

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if cmdutil.IsUsage(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
