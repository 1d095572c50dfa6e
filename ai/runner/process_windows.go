//go:build windows

package runner

import (
	"os"
	"os/exec"
)

func setProcAttr(*exec.Cmd) {}

// Windows has no SIGTERM; termination is always a kill.
func signalTerminate(p *os.Process) error {
	return p.Kill()
}

func forceKill(p *os.Process) error {
	return p.Kill()
}

func exitCodeOf(state *os.ProcessState) int {
	return state.ExitCode()
}
