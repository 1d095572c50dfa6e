package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type interpreterHarness struct {
	sess *Session
	in   *Interpreter
	th   *Throttler
	out  *fakeDeliverer
}

func newInterpreterHarness(edit bool) *interpreterHarness {
	sess := newSession(Request{}, time.Minute, time.Second)
	out := newFakeDeliverer(2000, edit)
	return &interpreterHarness{
		sess: sess,
		in:   NewInterpreter(sess, nil, nil),
		th:   NewThrottler(sess, out, ThrottleConfig{Interval: time.Hour, Chars: 500}, nil),
		out:  out,
	}
}

func (h *interpreterHarness) apply(t *testing.T, events ...Event) (bool, error) {
	t.Helper()
	for _, ev := range events {
		if done, err := execute(context.Background(), h.sess, h.in.Apply(ev), h.th); done {
			return true, err
		}
	}
	return false, nil
}

func TestInterpreter_ToolUseSeparatesText(t *testing.T) {
	for _, edit := range []bool{true, false} {
		h := newInterpreterHarness(edit)
		done, err := h.apply(t,
			Event{Kind: EventAssistantText, Text: "Hello"},
			Event{Kind: EventToolUse, ToolName: "Bash", ToolID: "t1", InputSummary: "ls"},
			Event{Kind: EventAssistantText, Text: " world"},
			Event{Kind: EventTurnCompleted, Turns: 2},
		)
		require.True(t, done)
		require.NoError(t, err)

		assert.Equal(t, []string{
			"Hello",
			"🔧 Bash: ls",
			" world",
			"✨ Conversation completed (2 turns)",
		}, h.out.Texts(), "edit=%v", edit)
		assert.Zero(t, h.out.Edits())
		assert.Equal(t, StateCompleted, h.sess.State())
		assert.Equal(t, len("Hello world"), h.sess.DeliveredLength())
	}
}

func TestInterpreter_OnlyToolUseMarksToolActivity(t *testing.T) {
	h := newInterpreterHarness(true)
	h.apply(t, Event{Kind: EventAssistantText, Text: "Hello"})
	h.th.MaybeFlush(context.Background(), FlushSessionEnd)

	h.apply(t,
		Event{Kind: EventThinking, Text: "hmm"},
		Event{Kind: EventUserEcho, Text: "hi"},
		Event{Kind: EventToolResult, ToolName: "WebFetch", ToolID: "t2", OK: true, Content: "ok"},
	)
	assert.False(t, h.sess.PendingToolActivity())

	h.apply(t, Event{Kind: EventToolUse, ToolName: "Bash", ToolID: "t1", InputSummary: "ls"})
	assert.True(t, h.sess.PendingToolActivity())

	h.apply(t, Event{Kind: EventAssistantText, Text: "done"})
	assert.False(t, h.sess.PendingToolActivity())
}

func TestInterpreter_TextGrowsByEdit(t *testing.T) {
	h := newInterpreterHarness(true)
	h.apply(t, Event{Kind: EventAssistantText, Text: "Hel"})
	h.th.MaybeFlush(context.Background(), FlushSessionEnd)
	h.apply(t, Event{Kind: EventAssistantText, Text: "lo"})
	h.th.MaybeFlush(context.Background(), FlushSessionEnd)

	assert.Equal(t, []string{"Hello"}, h.out.Texts())
	assert.Equal(t, 1, h.out.Edits())
}

func TestInterpreter_UsageLimit(t *testing.T) {
	h := newInterpreterHarness(false)
	resetAt := time.Unix(1750000000, 0)
	done, err := h.apply(t,
		Event{Kind: EventAssistantText, Text: "partial"},
		Event{Kind: EventUsageLimit, ResetAt: resetAt},
	)
	require.True(t, done)
	assert.ErrorIs(t, err, ErrUsageLimit)
	assert.Equal(t, StateFailed, h.sess.State())
	assert.Equal(t, []string{"partial", FormatUsageLimit(resetAt)}, h.out.Texts())
}

func TestInterpreter_FileReadSuppressed(t *testing.T) {
	h := newInterpreterHarness(false)
	h.apply(t,
		Event{Kind: EventToolUse, ToolName: "Read", ToolID: "t1", InputSummary: "file: main.go"},
		Event{Kind: EventToolResult, ToolID: "t1", OK: true, Content: "     1→package main\n     2→\n     3→func main() {}"},
	)
	assert.Equal(t, []string{"🔧 Read: file: main.go"}, h.out.Texts())
}

func TestInterpreter_ToolResultUsesToolName(t *testing.T) {
	h := newInterpreterHarness(false)
	h.apply(t,
		Event{Kind: EventToolUse, ToolName: "WebFetch", ToolID: "t9"},
		Event{Kind: EventToolResult, ToolID: "t9", OK: false, Content: "404"},
	)
	require.Len(t, h.out.Texts(), 2)
	assert.Equal(t, "❌ WebFetch result:\n404", h.out.Texts()[1])
}

func TestInterpreter_UnparseableIsDiagnostic(t *testing.T) {
	h := newInterpreterHarness(false)
	h.apply(t, Event{Kind: EventUnparseable, Text: "garbage"})
	assert.Empty(t, h.out.Texts())
	assert.Equal(t, []string{"garbage"}, h.sess.Diagnostics())
	assert.Equal(t, int32(1), h.sess.stats.Snapshot().Unparseable)
}

func TestInterpreter_IgnoresEventsAfterTerminal(t *testing.T) {
	h := newInterpreterHarness(false)
	done, _ := h.apply(t, Event{Kind: EventTurnCompleted, Turns: 1})
	require.True(t, done)
	assert.Nil(t, h.in.Apply(Event{Kind: EventAssistantText, Text: "late"}))
	assert.Empty(t, h.sess.Text())
}

func TestInterpreter_UserEchoAndThinking(t *testing.T) {
	h := newInterpreterHarness(false)
	h.apply(t,
		Event{Kind: EventUserEcho, Text: "hi"},
		Event{Kind: EventThinking, Text: "planning"},
	)
	assert.Equal(t, []string{"**User:** hi", "🤔 Thinking:\nplanning"}, h.out.Texts())
}
