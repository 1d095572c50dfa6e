package runner

import (
	"log/slog"
)

// IntentKind is an action the interpreter asks the session loop to perform.
type IntentKind int

const (
	IntentFlushCheck IntentKind = iota
	IntentForceFlush
	IntentNotice
	IntentNewUnit
	// IntentToolActivity marks that a tool ran after text was delivered.
	IntentToolActivity
	IntentFinish
)

// Intent is one step of the interpreter's output.
type Intent struct {
	Kind   IntentKind
	Reason FlushReason
	Text   string
	State  State
	Err    error
}

// Interpreter applies events to a session's text buffer and decides what
// to deliver. It performs no I/O itself.
type Interpreter struct {
	sess      *Session
	observer  Observer
	logger    *slog.Logger
	toolNames map[string]string
}

// NewInterpreter creates an interpreter for sess.
func NewInterpreter(sess *Session, observer Observer, logger *slog.Logger) *Interpreter {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		sess:      sess,
		observer:  observer,
		logger:    logger,
		toolNames: make(map[string]string),
	}
}

// Apply folds ev into the session and returns the resulting intents in the
// order they must be executed. Events after a terminal state are ignored.
func (in *Interpreter) Apply(ev Event) []Intent {
	if in.sess.State().Terminal() {
		return nil
	}
	in.sess.activity.Reset()
	in.sess.advance(StateStreaming)

	switch ev.Kind {
	case EventAssistantText:
		var intents []Intent
		if in.sess.PendingToolActivity() {
			in.sess.setPendingToolActivity(false)
			intents = append(intents, Intent{Kind: IntentNewUnit})
		}
		in.sess.appendText(ev.Text)
		return append(intents, Intent{Kind: IntentFlushCheck, Reason: FlushCheck})

	case EventToolUse:
		if ev.ToolID != "" {
			in.toolNames[ev.ToolID] = ev.ToolName
		}
		in.sess.stats.RecordToolUse(ev.ToolName)
		in.observer.ToolUsed(ev.ToolName)
		return append(in.notice(FormatToolUse(ev), FlushToolUse), Intent{Kind: IntentToolActivity})

	case EventToolResult:
		name := ev.ToolName
		if name == "" {
			name = in.toolNames[ev.ToolID]
		}
		text, ok := FormatToolResult(name, ev)
		if !ok {
			return nil
		}
		return in.notice(text, FlushNotice)

	case EventThinking:
		return in.notice(FormatThinking(ev.Text), FlushNotice)

	case EventUserEcho:
		return in.notice("**User:** "+ev.Text, FlushNotice)

	case EventUsageLimit:
		return []Intent{
			{Kind: IntentForceFlush, Reason: FlushSessionEnd},
			{Kind: IntentNotice, Text: FormatUsageLimit(ev.ResetAt)},
			{Kind: IntentFinish, State: StateFailed, Err: ErrUsageLimit},
		}

	case EventTurnCompleted:
		in.sess.stats.RecordResult(ev.Turns, ev.CostUSD, ev.Usage)
		return []Intent{
			{Kind: IntentForceFlush, Reason: FlushCompletion},
			{Kind: IntentNotice, Text: FormatCompleted(ev.Turns)},
			{Kind: IntentFinish, State: StateCompleted},
		}

	case EventUnparseable:
		in.sess.appendDiagnostic(ev.Text)
		in.sess.stats.recordUnparseable()
		in.observer.Unparseable()
		in.logger.Debug("unparseable output line",
			"session_id", in.sess.ID,
			"line", ev.Text)
		return nil

	default:
		return nil
	}
}

// notice flushes pending text ahead of the notice so delivery order matches the
// order the child produced it.
func (in *Interpreter) notice(text string, reason FlushReason) []Intent {
	return []Intent{
		{Kind: IntentForceFlush, Reason: reason},
		{Kind: IntentNotice, Text: text},
	}
}
