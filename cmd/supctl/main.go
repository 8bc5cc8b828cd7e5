// Command supctl is the operator CLI for go-supervise. It controls one
// supervised bot process per unit directory: start, stop, restart, status,
// enable, disable, log tailing, and the update-then-restart sequence, plus
// the long-running daemon modes (run, tree).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
