package runner

import "errors"

var (
	// ErrSessionActive is returned when a session is started while another one
	// holds the registry slot.
	ErrSessionActive = errors.New("a session is already running")
	// ErrSpawnFailure wraps errors starting the child process.
	ErrSpawnFailure = errors.New("failed to start child process")
	// ErrInactivityTimeout ends a session that produced no activity in time.
	ErrInactivityTimeout = errors.New("inactivity timeout")
	// ErrUsageLimit ends a session whose upstream usage limit was reached.
	ErrUsageLimit = errors.New("usage limit reached")
	// ErrCancelled is the cancellation cause of an operator cancel.
	ErrCancelled = errors.New("cancelled by operator")
	// ErrInternal marks an unexpected failure inside the relay itself.
	ErrInternal = errors.New("internal relay error")

	// errSessionFinished stops the session goroutines after a terminal event.
	errSessionFinished = errors.New("session finished")
)
