package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/ccrelay/internal/version"
)

const (
	// DefaultMaxMessageLength is the per-message limit when the transport
	// reports none.
	// 默认单条消息长度上限。
	DefaultMaxMessageLength = 2000

	// eventBacklog bounds decoded events waiting for the consumer.
	eventBacklog = 64

	// finalDeliveryTimeout bounds the deliveries made during teardown.
	finalDeliveryTimeout = 30 * time.Second

	// diagnosticTail is how many stderr lines accompany a failure report.
	diagnosticTail = 10
)

// Config configures the Supervisor.
type Config struct {
	// CLIPath is the claude executable; resolved from PATH when empty.
	CLIPath string
	WorkDir string
	// Env is appended to the inherited environment.
	Env []string

	ReadTimeout       time.Duration
	InactivityTimeout time.Duration
	PollInterval      time.Duration
	GracePeriod       time.Duration
	FlushInterval     time.Duration
	FlushChars        int
	MaxMessageLength  int
	// StderrSampleRate is the percentage of stderr lines that are logged.
	StderrSampleRate int

	// CommandFunc overrides how a request becomes a command line.
	CommandFunc func(Request) (string, []string)
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		CLIPath:           "claude",
		ReadTimeout:       5 * time.Second,
		InactivityTimeout: 10 * time.Minute,
		PollInterval:      10 * time.Second,
		GracePeriod:       10 * time.Second,
		FlushInterval:     time.Second,
		FlushChars:        500,
		MaxMessageLength:  DefaultMaxMessageLength,
		StderrSampleRate:  10,
	}
}

// Supervisor runs CLI sessions one at a time and relays their output.
type Supervisor struct {
	cfg      Config
	registry *Registry
	observer Observer
	logger   *slog.Logger
}

// NewSupervisor creates a supervisor. A nil registry, observer or logger is
// replaced with a default.
func NewSupervisor(cfg Config, registry *Registry, observer Observer, logger *slog.Logger) *Supervisor {
	if registry == nil {
		registry = NewRegistry()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, registry: registry, observer: observer, logger: logger}
}

// Registry returns the session registry.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Current returns the running session, or nil.
func (s *Supervisor) Current() *Session {
	return s.registry.Current()
}

// Cancel stops the running session, if any.
func (s *Supervisor) Cancel(ctx context.Context) CancelResult {
	sess := s.registry.Current()
	if sess == nil {
		return CancelResult{Outcome: CancelNothingRunning}
	}
	return sess.Cancel(ctx)
}

// CLIVersion runs `claude --version` and checks it against the minimum
// supported version.
// CLIVersion 返回 Claude Code CLI 版本。
func (s *Supervisor) CLIVersion(ctx context.Context) (string, error) {
	output, err := exec.CommandContext(ctx, s.cfg.CLIPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get CLI version: %w", err)
	}
	v, ok := version.ParseCLIVersion(string(output))
	if !ok {
		return "", fmt.Errorf("unrecognized CLI version output %q", strings.TrimSpace(string(output)))
	}
	if !version.IsVersionGreaterOrEqualThan(v, version.MinCLIVersion) {
		return v, fmt.Errorf("claude CLI %s is older than the supported minimum %s", v, version.MinCLIVersion)
	}
	return v, nil
}

func (s *Supervisor) command(req Request) (string, []string) {
	if s.cfg.CommandFunc != nil {
		return s.cfg.CommandFunc(req)
	}
	return s.cfg.CLIPath, req.Args()
}

// Start spawns the CLI for req and relays its output to out in the
// background. It fails with ErrSessionActive if a session is running and
// with ErrSpawnFailure if the process cannot be started.
func (s *Supervisor) Start(ctx context.Context, req Request, out Deliverer) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess := newSession(req, s.cfg.InactivityTimeout, s.cfg.GracePeriod)
	if err := s.registry.Acquire(sess); err != nil {
		return nil, err
	}
	s.observer.SessionStarted(sess.ID)

	dir := req.WorkDir
	if dir == "" {
		dir = s.cfg.WorkDir
	}
	path, args := s.command(req)
	proc, stdout, stderr, err := startProcess(path, args, dir, s.cfg.Env, req.Stdin, s.logger.With("session_id", sess.ID))
	if err != nil {
		sess.finish(StateFailed, err)
		s.release(sess, TerminationReport{Method: TerminationExited, ExitCode: -1})
		s.observer.SessionFinished(sess.ID, StateFailed, 0)
		s.logger.Error("failed to start claude",
			"session_id", sess.ID,
			"path", path,
			"error", err)
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailure, err)
	}

	// The session outlives the request that started it; only Cancel and the
	// watchdog end it early.
	runCtx, cancel := context.WithCancelCause(context.Background())
	sess.mu.Lock()
	sess.proc = proc
	sess.cancel = cancel
	sess.mu.Unlock()
	if sess.cancelRequested.Load() {
		cancel(ErrCancelled)
	}

	s.logger.Info("session started",
		"session_id", sess.ID,
		"handle", sess.Handle,
		"pid", proc.pid(),
		"mode", req.Mode.String())

	go s.run(runCtx, sess, stdout, stderr, out)
	return sess, nil
}

// release frees the registry slot before Done is closed, so a waiter may
// start the next session immediately.
func (s *Supervisor) release(sess *Session, report TerminationReport) {
	s.registry.Release(sess)
	sess.close(report)
}

func (s *Supervisor) run(ctx context.Context, sess *Session, stdout, stderr *os.File, out Deliverer) {
	report := TerminationReport{Method: TerminationExited}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session teardown panicked",
				"session_id", sess.ID,
				"panic", r)
			if sess.finish(StateFailed, fmt.Errorf("%w: %v", ErrInternal, r)) {
				s.observer.SessionFinished(sess.ID, StateFailed, time.Since(sess.StartedAt))
			}
			report = sess.proc.terminate(0)
		}
		closeAll(stdout, stderr)
		s.release(sess, report)
	}()

	logger := s.logger.With("session_id", sess.ID)
	throttler := NewThrottler(sess, out, ThrottleConfig{
		Interval:         s.cfg.FlushInterval,
		Chars:            s.cfg.FlushChars,
		MaxMessageLength: s.cfg.MaxMessageLength,
	}, logger)
	throttler.onDelivered = func(kind DeliveryKind, err error) {
		sess.stats.RecordDelivery(kind, err)
		s.observer.Delivered(kind, err)
	}

	runErr := s.stream(ctx, sess, stdout, stderr, throttler, logger)
	report = s.teardown(ctx, sess, runErr, throttler, logger)
}

// stream runs the readers, the watchdog and the consumer until the session
// ends one way or another.
func (s *Supervisor) stream(ctx context.Context, sess *Session, stdout, stderr io.Reader, throttler *Throttler, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	events := make(chan Event, eventBacklog)
	stderrDone := make(chan struct{})
	stdoutReader := NewLineReader(stdout, s.cfg.ReadTimeout, sess.proc.exited)
	stderrReader := NewLineReader(stderr, s.cfg.ReadTimeout, sess.proc.exited)
	defer stdoutReader.Close()
	defer stderrReader.Close()

	g.Go(guard(logger, "stdout", func() error {
		defer close(events)
		return s.readEvents(gctx, sess, stdoutReader, events, logger)
	}))
	g.Go(guard(logger, "stderr", func() error {
		defer close(stderrDone)
		return s.readDiagnostics(gctx, sess, stderrReader, logger)
	}))
	g.Go(guard(logger, "watchdog", func() error {
		return sess.activity.Watch(gctx, s.cfg.PollInterval)
	}))
	g.Go(guard(logger, "consumer", func() error {
		return s.consume(gctx, sess, events, stderrDone, throttler)
	}))

	err := g.Wait()
	if errors.Is(err, errSessionFinished) {
		return nil
	}
	return err
}

// guard turns a panic in fn into ErrInternal.
func guard(logger *slog.Logger, name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("session goroutine panicked", "goroutine", name, "panic", r)
				err = fmt.Errorf("%w: %s: %v", ErrInternal, name, r)
			}
		}()
		return fn()
	}
}

func (s *Supervisor) readEvents(ctx context.Context, sess *Session, r *LineReader, events chan<- Event, logger *slog.Logger) error {
	defer func() {
		if line := r.Dropped(); line != "" {
			sess.appendDiagnostic(line)
			logger.Warn("dropped partial output line", "line", line)
		}
	}()
	for {
		line, err := r.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrIdle):
			continue
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return nil
		default:
			logger.Warn("stdout read failed", "error", err)
			return nil
		}
		if interrupted(ctx) {
			sess.appendDiagnostic(line)
			return nil
		}

		for _, ev := range ParseLine(line) {
			select {
			case events <- ev:
			case <-ctx.Done():
				if interrupted(ctx) {
					sess.appendDiagnostic(line)
				}
				return nil
			}
		}
	}
}

// interrupted reports whether ctx was stopped by cancel, timeout or a failure
// rather than by a terminal event. Output read after that is kept as a
// diagnostic.
func interrupted(ctx context.Context) bool {
	return ctx.Err() != nil && !errors.Is(context.Cause(ctx), errSessionFinished)
}

func (s *Supervisor) readDiagnostics(ctx context.Context, sess *Session, r *LineReader, logger *slog.Logger) error {
	for {
		line, err := r.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrIdle):
			continue
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			if line := r.Dropped(); line != "" {
				sess.appendDiagnostic(line)
			}
			return nil
		default:
			logger.Warn("stderr read failed", "error", err)
			return nil
		}

		sess.appendDiagnostic(line)
		sess.stats.recordDiagnostic()
		// Sample stderr output for logs, capture all for error context.
		// 对 stderr 进行采样记录到日志，同时捕获所有内容用于错误上下文。
		if rand.Intn(100) < s.cfg.StderrSampleRate {
			logger.Warn("stderr sample", "line", line)
		}
	}
}

func (s *Supervisor) consume(ctx context.Context, sess *Session, events <-chan Event, stderrDone <-chan struct{}, throttler *Throttler) error {
	interval := s.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	in := NewInterpreter(sess, s.observer, s.logger)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			throttler.MaybeFlush(ctx, FlushCheck)
		case ev, ok := <-events:
			if !ok {
				sess.advance(StateDraining)
				s.awaitStderr(ctx, stderrDone)
				return errSessionFinished
			}
			if done, err := execute(ctx, sess, in.Apply(ev), throttler); done {
				if err != nil {
					return err
				}
				return errSessionFinished
			}
		}
	}
}

// awaitStderr gives the stderr reader a chance to drain after stdout closed.
func (s *Supervisor) awaitStderr(ctx context.Context, stderrDone <-chan struct{}) {
	timer := time.NewTimer(s.cfg.ReadTimeout + time.Second)
	defer timer.Stop()
	select {
	case <-stderrDone:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// execute runs intents in order. It reports whether the session reached a
// terminal state.
func execute(ctx context.Context, sess *Session, intents []Intent, throttler *Throttler) (bool, error) {
	for _, it := range intents {
		switch it.Kind {
		case IntentFlushCheck, IntentForceFlush:
			throttler.MaybeFlush(ctx, it.Reason)
		case IntentNewUnit:
			throttler.BreakUnit()
		case IntentNotice:
			throttler.Notice(ctx, it.Text)
		case IntentToolActivity:
			if sess.DeliveredLength() > 0 {
				sess.setPendingToolActivity(true)
			}
		case IntentFinish:
			sess.finish(it.State, it.Err)
			return true, it.Err
		}
	}
	return false, nil
}

// teardown stops the process, delivers what is left and settles the final
// state. Every path makes one last flush before reporting anything.
func (s *Supervisor) teardown(ctx context.Context, sess *Session, runErr error, throttler *Throttler, logger *slog.Logger) TerminationReport {
	cancelled := errors.Is(context.Cause(ctx), ErrCancelled)

	var report TerminationReport
	switch {
	case cancelled, runErr != nil:
		report = sess.proc.terminate(s.cfg.GracePeriod)
	default:
		// Output ended or a result arrived; let the process exit on its own.
		if !sess.proc.waitExit(s.cfg.GracePeriod) {
			logger.Warn("process did not exit after output ended, terminating")
		}
		report = sess.proc.terminate(s.cfg.GracePeriod)
	}
	// A cancel can land while we wait for the process to exit on its own.
	cancelled = cancelled || sess.cancelRequested.Load()

	finalCtx, cancel := context.WithTimeout(context.Background(), finalDeliveryTimeout)
	defer cancel()
	throttler.MaybeFlush(finalCtx, FlushSessionEnd)

	state, err := sess.State(), runErr
	switch {
	case state.Terminal():
		err = sess.resultErr()
	case errors.Is(runErr, ErrInactivityTimeout):
		state = StateTimedOut
		throttler.Notice(finalCtx, fmt.Sprintf("⏱️ Session timed out after %s without activity; claude was stopped.", s.cfg.InactivityTimeout))
	case cancelled:
		state, err = StateCancelled, ErrCancelled
	case runErr != nil:
		state = StateFailed
		throttler.Notice(finalCtx, "Error: "+runErr.Error())
	case report.ExitCode != 0:
		state = StateFailed
		err = fmt.Errorf("claude exited with code %d", report.ExitCode)
		throttler.Notice(finalCtx, failureNotice(report.ExitCode, sess.lastDiagnostics(diagnosticTail)))
	default:
		state = StateCompleted
	}
	sess.finish(state, err)

	stats := sess.stats.Snapshot()
	s.observer.SessionFinished(sess.ID, state, time.Since(sess.StartedAt))
	logger.Info("session finished",
		"state", state,
		"termination", report.Method,
		"exit_code", report.ExitCode,
		"turns", stats.Turns,
		"tool_calls", stats.ToolCallCount,
		"deliveries", stats.Deliveries,
		"edits", stats.Edits,
		"delivery_errors", stats.DeliveryErrors,
		"error", err)
	return report
}

func failureNotice(exitCode int, stderrTail []string) string {
	if len(stderrTail) == 0 {
		return fmt.Sprintf("Error: claude exited with code %d", exitCode)
	}
	return fmt.Sprintf("Error: claude exited with code %d\n%s", exitCode, strings.Join(stderrTail, "\n"))
}
