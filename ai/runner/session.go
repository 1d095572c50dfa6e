package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/ccrelay/ai/internal/strutil"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// TerminationMethod describes how the child process ended.
type TerminationMethod string

const (
	// TerminationExited means the process had already exited on its own.
	TerminationExited   TerminationMethod = "exited"
	TerminationGraceful TerminationMethod = "graceful"
	TerminationForced   TerminationMethod = "forced"
)

// TerminationReport is the outcome of stopping the child process.
type TerminationReport struct {
	Method   TerminationMethod `json:"method"`
	ExitCode int               `json:"exit_code"`
}

// CancelOutcome is the result kind of a cancellation request.
type CancelOutcome string

const (
	CancelNothingRunning   CancelOutcome = "nothing_running"
	CancelAlreadyCompleted CancelOutcome = "already_completed"
	CancelTerminated       CancelOutcome = "terminated"
)

// CancelResult answers a cancellation request.
type CancelResult struct {
	Outcome   CancelOutcome     `json:"outcome"`
	SessionID string            `json:"session_id,omitempty"`
	Report    TerminationReport `json:"report"`
}

// String returns the operator-facing reply for the cancellation.
func (r CancelResult) String() string {
	switch r.Outcome {
	case CancelNothingRunning:
		return "Nothing running."
	case CancelAlreadyCompleted:
		return "Session already completed."
	default:
		return fmt.Sprintf("🛑 Session cancelled (%s termination, exit code %d).", r.Report.Method, r.Report.ExitCode)
	}
}

// Result is the final outcome of a session.
type Result struct {
	State    State
	Err      error
	Report   TerminationReport
	Duration time.Duration
	Stats    StatsSnapshot
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID                  string    `json:"id"`
	Handle              string    `json:"handle"`
	State               State     `json:"state"`
	PID                 int       `json:"pid,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	LastActivity        time.Time `json:"last_activity"`
	TextLength          int       `json:"text_length"`
	DeliveredLength     int       `json:"delivered_length"`
	PendingToolActivity bool      `json:"pending_tool_activity"`
	Diagnostics         int       `json:"diagnostics"`
}

// Session is one invocation of the child process and its relayed output.
//
// The accumulated text and the delivered watermark are written only by the
// session's consumer goroutine; the mutex makes snapshots safe from others.
type Session struct {
	ID        string
	Handle    string
	Request   Request
	StartedAt time.Time

	mu                  sync.Mutex
	state               State
	text                strings.Builder
	delivered           int
	pendingToolActivity bool
	errorLog            []string
	result              Result

	activity        *ActivityTimer
	stats           *SessionStats
	proc            *process
	grace           time.Duration
	cancel          context.CancelCauseFunc
	cancelRequested atomic.Bool
	done            chan struct{}
	doneOnce        sync.Once
}

func newSession(req Request, inactivity, grace time.Duration) *Session {
	id := uuid.New()
	now := time.Now()
	return &Session{
		ID:        id.String(),
		Handle:    shortuuid.DefaultEncoder.Encode(id)[:8],
		Request:   req,
		StartedAt: now,
		state:     StateStarting,
		activity:  NewActivityTimer(inactivity),
		stats:     &SessionStats{SessionID: id.String(), StartTime: now},
		grace:     grace,
		cancel:    func(error) {},
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves a non-terminal session to next. Terminal states are only
// reached through finish.
func (s *Session) advance(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || next.Terminal() {
		return
	}
	s.state = next
}

// finish moves the session to a terminal state. Only the first call wins.
func (s *Session) finish(state State, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = state
	s.result.State = state
	s.result.Err = err
	return true
}

func (s *Session) appendText(t string) {
	s.mu.Lock()
	s.text.WriteString(t)
	s.mu.Unlock()
}

// Text returns all text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// TextLen returns the accumulated text length in runes.
func (s *Session) TextLen() int {
	return strutil.Len(s.Text())
}

// unsent returns the undelivered suffix and the byte offset it starts at.
func (s *Session) unsent() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()[s.delivered:], s.delivered
}

func (s *Session) textRange(start, end int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()[start:end]
}

// markDelivered advances the watermark. It never moves backwards and never
// passes the end of the accumulated text.
func (s *Session) markDelivered(end int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if end > s.text.Len() {
		end = s.text.Len()
	}
	if end > s.delivered {
		s.delivered = end
	}
	s.pendingToolActivity = false
}

// DeliveredLength returns the watermark as a byte offset into Text().
func (s *Session) DeliveredLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}

// PendingToolActivity reports whether a tool ran after the last delivery.
func (s *Session) PendingToolActivity() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingToolActivity
}

func (s *Session) setPendingToolActivity(v bool) {
	s.mu.Lock()
	s.pendingToolActivity = v
	s.mu.Unlock()
}

func (s *Session) appendDiagnostic(line string) {
	s.mu.Lock()
	s.errorLog = append(s.errorLog, line)
	s.mu.Unlock()
}

// Diagnostics returns a copy of the stderr and undecodable lines seen so far.
func (s *Session) Diagnostics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errorLog))
	copy(out, s.errorLog)
	return out
}

// lastDiagnostics returns the last n diagnostic lines (or all if fewer).
func (s *Session) lastDiagnostics(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errorLog) <= n {
		out := make([]string, len(s.errorLog))
		copy(out, s.errorLog)
		return out
	}
	out := make([]string, n)
	copy(out, s.errorLog[len(s.errorLog)-n:])
	return out
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		ID:                  s.ID,
		Handle:              s.Handle,
		State:               s.state,
		StartedAt:           s.StartedAt,
		LastActivity:        s.activity.LastActivity(),
		TextLength:          s.text.Len(),
		DeliveredLength:     s.delivered,
		PendingToolActivity: s.pendingToolActivity,
		Diagnostics:         len(s.errorLog),
	}
	if s.proc != nil {
		info.PID = s.proc.pid()
	}
	return info
}

// Done is closed once the session reached a terminal state and released all
// of its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is done and returns its result.
func (s *Session) Wait() Result {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Cancel stops the session: terminate, wait up to the grace period, then
// force-kill. A second cancellation, or one against a session that already
// ended, reports CancelAlreadyCompleted.
func (s *Session) Cancel(ctx context.Context) CancelResult {
	if s.State().Terminal() || !s.cancelRequested.CompareAndSwap(false, true) {
		s.waitDone(ctx)
		return CancelResult{Outcome: CancelAlreadyCompleted, SessionID: s.ID, Report: s.report()}
	}

	s.mu.Lock()
	cancel, proc := s.cancel, s.proc
	s.mu.Unlock()
	if cancel != nil {
		cancel(ErrCancelled)
	}
	if proc == nil {
		// Start has not wired the process yet; it sees cancelRequested and
		// the teardown does the termination.
		s.waitDone(ctx)
		return CancelResult{Outcome: CancelTerminated, SessionID: s.ID, Report: s.report()}
	}
	report := proc.terminate(s.grace)
	s.waitDone(ctx)
	return CancelResult{Outcome: CancelTerminated, SessionID: s.ID, Report: report}
}

func (s *Session) waitDone(ctx context.Context) {
	select {
	case <-s.done:
	case <-ctx.Done():
	}
}

func (s *Session) resultErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Err
}

func (s *Session) report() TerminationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Report
}

// close records the final report and closes Done. Safe to call repeatedly.
func (s *Session) close(report TerminationReport) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.result.Report = report
		s.result.Duration = time.Since(s.StartedAt)
		s.result.Stats = s.stats.Snapshot()
		s.mu.Unlock()
		close(s.done)
	})
}
