//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals are the OS signals that trigger the gateway's graceful shutdown
// sequence (spec §5: stop accepting new tunnels, close sessions with reason "shutdown",
// wait up to shutdownGrace, then hard-close).
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
