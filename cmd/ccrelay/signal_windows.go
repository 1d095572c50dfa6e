//go:build windows

package main

import (
	"os"
)

// terminationSignals stop the relay. Windows only delivers Ctrl+C.
var terminationSignals = []os.Signal{os.Interrupt}
