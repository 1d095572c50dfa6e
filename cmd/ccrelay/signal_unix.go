//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals stop the relay; a running claude session is cancelled
// first. SIGHUP covers a closed terminal in `ccrelay run`.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
