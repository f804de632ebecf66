// Command tunnelgwctl is a small operator CLI for a running tunnelgw node: it polls the
// admin HTTP surface and renders the result as a colored table.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
