package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_FinishOnce(t *testing.T) {
	sess := newSession(Request{}, time.Minute, time.Second)
	assert.Equal(t, StateStarting, sess.State())

	sess.advance(StateStreaming)
	assert.Equal(t, StateStreaming, sess.State())

	assert.True(t, sess.finish(StateTimedOut, ErrInactivityTimeout))
	assert.False(t, sess.finish(StateCompleted, nil))
	assert.Equal(t, StateTimedOut, sess.State())

	sess.advance(StateDraining)
	assert.Equal(t, StateTimedOut, sess.State(), "terminal state is final")
}

func TestSession_Watermark(t *testing.T) {
	sess := newSession(Request{}, time.Minute, time.Second)
	sess.appendText("hello")
	sess.markDelivered(3)
	unsent, start := sess.unsent()
	assert.Equal(t, "lo", unsent)
	assert.Equal(t, 3, start)

	sess.markDelivered(1)
	assert.Equal(t, 3, sess.DeliveredLength(), "watermark never moves back")

	sess.markDelivered(99)
	assert.Equal(t, 5, sess.DeliveredLength(), "watermark never passes the text")
}

func TestSession_Handle(t *testing.T) {
	a := newSession(Request{}, time.Minute, time.Second)
	b := newSession(Request{}, time.Minute, time.Second)
	assert.Len(t, a.Handle, 8)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSession_LastDiagnostics(t *testing.T) {
	sess := newSession(Request{}, time.Minute, time.Second)
	for _, line := range []string{"a", "b", "c"} {
		sess.appendDiagnostic(line)
	}
	assert.Equal(t, []string{"b", "c"}, sess.lastDiagnostics(2))
	assert.Equal(t, []string{"a", "b", "c"}, sess.lastDiagnostics(10))
}
