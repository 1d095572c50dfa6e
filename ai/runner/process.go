package runner

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// killWait bounds how long terminate waits for the process after SIGKILL.
const killWait = 5 * time.Second

// process is a started child with its exit tracked in the background.
type process struct {
	cmd    *exec.Cmd
	exited chan struct{}
	logger *slog.Logger

	waitErr error

	termOnce sync.Once
	report   TerminationReport
}

// startProcess launches path with args. stdout and stderr are returned as the
// read ends of OS pipes so they can be read while Wait runs concurrently.
// stdin receives the optional priming input and is closed right after.
func startProcess(path string, args []string, dir string, env []string, stdin string, logger *slog.Logger) (*process, *os.File, *os.File, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	setProcAttr(cmd)

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, nil, nil, err
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	var stdinW io.WriteCloser
	if stdin != "" {
		stdinW, err = cmd.StdinPipe()
		if err != nil {
			closeAll(stdoutR, stdoutW, stderrR, stderrW)
			return nil, nil, nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, nil, nil, err
	}
	// The child holds its own copies now.
	closeAll(stdoutW, stderrW)

	if stdinW != nil {
		go func() {
			_, _ = io.WriteString(stdinW, stdin)
			_ = stdinW.Close()
		}()
	}

	p := &process{cmd: cmd, exited: make(chan struct{}), logger: logger}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, stdoutR, stderrR, nil
}

func (p *process) pid() int {
	if p == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// hasExited reports whether Wait has returned.
func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// waitExit waits up to d for the process to exit on its own.
func (p *process) waitExit(d time.Duration) bool {
	if d <= 0 {
		return p.hasExited()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

// exitCode is valid once exited is closed.
func (p *process) exitCode() int {
	if p.cmd.ProcessState != nil {
		return exitCodeOf(p.cmd.ProcessState)
	}
	var exitErr *exec.ExitError
	if errors.As(p.waitErr, &exitErr) {
		return exitCodeOf(exitErr.ProcessState)
	}
	return -1
}

// terminate asks the process to stop, waits up to grace, then kills it.
// Concurrent and repeated calls share the first call's report.
func (p *process) terminate(grace time.Duration) TerminationReport {
	if p == nil {
		return TerminationReport{Method: TerminationExited}
	}
	p.termOnce.Do(func() {
		if p.hasExited() {
			p.report = TerminationReport{Method: TerminationExited, ExitCode: p.exitCode()}
			return
		}
		err := signalTerminate(p.cmd.Process)
		if err == nil && p.waitExit(grace) {
			p.report = TerminationReport{Method: TerminationGraceful, ExitCode: p.exitCode()}
			return
		}
		if err != nil {
			p.log().Warn("failed to signal claude, killing it", "pid", p.pid(), "error", err)
		}
		if err := forceKill(p.cmd.Process); err != nil {
			p.log().Warn("failed to kill claude", "pid", p.pid(), "error", err)
		}
		if !p.waitExit(killWait) {
			p.log().Error("claude still running after kill", "pid", p.pid())
		}
		p.report = TerminationReport{Method: TerminationForced, ExitCode: p.exitCode()}
	})
	return p.report
}

func (p *process) log() *slog.Logger {
	if p.logger == nil {
		return slog.Default()
	}
	return p.logger
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
