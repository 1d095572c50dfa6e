package runner

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ccrelay/ai/format"
)

func newTestThrottler(out Deliverer) (*Throttler, *Session, *fakeClock) {
	sess := newSession(Request{}, time.Minute, time.Second)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	th := NewThrottler(sess, out, ThrottleConfig{Interval: time.Second, Chars: 500}, nil)
	th.now = clock.Now
	th.lastFlush = clock.Now()
	return th, sess, clock
}

func TestThrottler_HoldsUntilInterval(t *testing.T) {
	out := newFakeDeliverer(2000, true)
	th, sess, clock := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText("Hello")
	assert.False(t, th.MaybeFlush(ctx, FlushCheck))
	assert.Empty(t, out.Texts())

	clock.Advance(time.Second)
	assert.True(t, th.MaybeFlush(ctx, FlushCheck))
	assert.Equal(t, []string{"Hello"}, out.Texts())
	assert.Equal(t, len("Hello"), sess.DeliveredLength())

	assert.False(t, th.MaybeFlush(ctx, FlushSessionEnd), "nothing left to send")
}

func TestThrottler_FlushesOnCharBoundary(t *testing.T) {
	out := newFakeDeliverer(2000, false)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText(strings.Repeat("a", 499))
	assert.False(t, th.MaybeFlush(ctx, FlushCheck))
	sess.appendText("bb")
	assert.True(t, th.MaybeFlush(ctx, FlushCheck))
	require.Len(t, out.Texts(), 1)
	assert.Len(t, out.Texts()[0], 501)
}

func TestThrottler_EditsInPlace(t *testing.T) {
	out := newFakeDeliverer(2000, true)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText("Hello")
	th.MaybeFlush(ctx, FlushNotice)
	sess.appendText(" world")
	th.MaybeFlush(ctx, FlushNotice)

	assert.Equal(t, []string{"Hello world"}, out.Texts())
	assert.Equal(t, 1, out.Edits())
}

func TestThrottler_OverflowStartsNewMessage(t *testing.T) {
	out := newFakeDeliverer(10, true)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText("12345678")
	th.MaybeFlush(ctx, FlushNotice)
	sess.appendText("abcd")
	th.MaybeFlush(ctx, FlushNotice)

	assert.Equal(t, []string{"12345678", "abcd"}, out.Texts())
	assert.Zero(t, out.Edits())
}

func TestThrottler_ChunksLongText(t *testing.T) {
	out := newFakeDeliverer(2000, false)
	th, sess, _ := newTestThrottler(out)

	sess.appendText(strings.Repeat("a", 3000))
	th.MaybeFlush(context.Background(), FlushCompletion)

	texts := out.Texts()
	require.Len(t, texts, 2)
	assert.Len(t, texts[0], 2000)
	assert.True(t, strings.HasPrefix(texts[1], format.ContinuationMarker))
	assert.Equal(t, strings.Repeat("a", 3000),
		texts[0]+strings.TrimPrefix(texts[1], format.ContinuationMarker))
}

func TestThrottler_ConfigLimitNeverExceedsTransport(t *testing.T) {
	for _, tc := range []struct {
		name      string
		cfgLimit  int
		transport int
		want      int
	}{
		{name: "config above transport", cfgLimit: 3000, transport: 2000, want: 2000},
		{name: "config below transport", cfgLimit: 1000, transport: 2000, want: 1000},
		{name: "config unset", cfgLimit: 0, transport: 1500, want: 1500},
		{name: "transport unbounded", cfgLimit: 1200, transport: 0, want: 1200},
		{name: "both unset", cfgLimit: 0, transport: 0, want: DefaultMaxMessageLength},
	} {
		t.Run(tc.name, func(t *testing.T) {
			th, _, _ := newTestThrottler(newFakeDeliverer(tc.transport, false))
			th.cfg.MaxMessageLength = tc.cfgLimit
			assert.Equal(t, tc.want, th.maxLen())
		})
	}
}

func TestThrottler_ConfigAboveTransportStillDelivers(t *testing.T) {
	out := newFakeDeliverer(2000, false)
	th, sess, _ := newTestThrottler(out)
	th.cfg.MaxMessageLength = 3000

	sess.appendText(strings.Repeat("a", 2500))
	th.MaybeFlush(context.Background(), FlushCompletion)

	texts := out.Texts()
	require.Len(t, texts, 2)
	assert.Len(t, texts[0], 2000)
	assert.Equal(t, strings.Repeat("a", 2500),
		texts[0]+strings.TrimPrefix(texts[1], format.ContinuationMarker))
	assert.Equal(t, 2500, sess.DeliveredLength())
}

func TestThrottler_FailedEditFallsBackToSend(t *testing.T) {
	out := newFakeDeliverer(2000, true)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText("one")
	th.MaybeFlush(ctx, FlushNotice)
	out.failEdits = true
	sess.appendText(" two")
	th.MaybeFlush(ctx, FlushNotice)

	assert.Equal(t, []string{"one", " two"}, out.Texts())
	assert.Equal(t, len("one two"), sess.DeliveredLength())
}

func TestThrottler_FailedSendIsSkipped(t *testing.T) {
	out := newFakeDeliverer(2000, false)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	var failures int
	th.onDelivered = func(_ DeliveryKind, err error) {
		if err != nil {
			failures++
		}
	}

	out.failSends = 1
	sess.appendText("lost")
	th.MaybeFlush(ctx, FlushNotice)
	sess.appendText("kept")
	th.MaybeFlush(ctx, FlushNotice)

	assert.Equal(t, []string{"kept"}, out.Texts())
	assert.Equal(t, 1, failures)
	assert.Equal(t, len("lostkept"), sess.DeliveredLength())
}

func TestThrottler_NoticeBreaksUnit(t *testing.T) {
	out := newFakeDeliverer(2000, true)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText("Hello")
	th.MaybeFlush(ctx, FlushToolUse)
	th.Notice(ctx, "🔧 Bash: ls")
	sess.appendText(" world")
	th.MaybeFlush(ctx, FlushCompletion)

	assert.Equal(t, []string{"Hello", "🔧 Bash: ls", " world"}, out.Texts())
	assert.Zero(t, out.Edits())
}

func TestThrottler_PendingToolActivityBreaksUnit(t *testing.T) {
	out := newFakeDeliverer(2000, true)
	th, sess, _ := newTestThrottler(out)
	ctx := context.Background()

	sess.appendText("Hello")
	th.MaybeFlush(ctx, FlushNotice)
	sess.appendText(" again")
	sess.setPendingToolActivity(true)
	th.MaybeFlush(ctx, FlushNotice)

	assert.Equal(t, []string{"Hello", " again"}, out.Texts())
	assert.False(t, sess.PendingToolActivity())
}

func TestThrottler_WatermarkMonotonic(t *testing.T) {
	out := newFakeDeliverer(2000, false)
	th, sess, clock := newTestThrottler(out)
	ctx := context.Background()

	last := 0
	for i := 0; i < 20; i++ {
		sess.appendText(strings.Repeat("x", 97))
		clock.Advance(300 * time.Millisecond)
		th.MaybeFlush(ctx, FlushCheck)
		got := sess.DeliveredLength()
		assert.GreaterOrEqual(t, got, last)
		assert.LessOrEqual(t, got, len(sess.Text()))
		last = got
	}
	th.MaybeFlush(ctx, FlushSessionEnd)
	assert.Equal(t, len(sess.Text()), sess.DeliveredLength())
	assert.Equal(t, sess.Text(), strings.Join(out.Texts(), ""))
}
