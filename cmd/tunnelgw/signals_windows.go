//go:build windows

package main

import "os"

// shutdownSignals are the OS signals that trigger the gateway's graceful shutdown
// sequence. Windows has no SIGTERM; CTRL+C (os.Interrupt) is the only one available.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
