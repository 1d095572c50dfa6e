package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/hrygo/ccrelay/ai/format"
	"github.com/hrygo/ccrelay/ai/internal/strutil"
)

// FlushReason says why a flush was requested. Every reason except
// FlushCheck bypasses the time and size thresholds.
type FlushReason int

const (
	FlushCheck FlushReason = iota
	FlushToolUse
	FlushNotice
	FlushCompletion
	FlushSessionEnd
)

func (r FlushReason) forced() bool {
	return r != FlushCheck
}

// ThrottleConfig bounds how often accumulated text is delivered.
type ThrottleConfig struct {
	// Interval is the minimum time between threshold flushes.
	Interval time.Duration
	// Chars triggers a flush whenever the accumulated length crosses a
	// multiple of it.
	Chars int
	// MaxMessageLength lowers the transport limit when positive. It never
	// raises it.
	MaxMessageLength int
}

// Throttler turns the session's accumulated text into transport messages.
//
// Consecutive text with no intervening notice forms one unit. When the
// transport supports editing, a unit that fits in one message is kept in a
// single message that is edited in place as text grows. A Throttler is not
// safe for concurrent use.
type Throttler struct {
	sess   *Session
	out    Deliverer
	cfg    ThrottleConfig
	logger *slog.Logger
	now    func() time.Time

	onDelivered func(kind DeliveryKind, err error)

	lastFlush    time.Time
	lastFlushLen int
	editTarget   string
	unitStart    int
}

// NewThrottler creates a throttler delivering sess's text to out.
func NewThrottler(sess *Session, out Deliverer, cfg ThrottleConfig, logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Throttler{
		sess:        sess,
		out:         out,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		onDelivered: func(DeliveryKind, error) {},
	}
	t.lastFlush = t.now()
	return t
}

func (t *Throttler) maxLen() int {
	limit := t.out.MaxMessageLength()
	if n := t.cfg.MaxMessageLength; n > 0 && (limit <= 0 || n < limit) {
		limit = n
	}
	if limit <= 0 {
		return DefaultMaxMessageLength
	}
	return limit
}

// due reports whether a threshold flush should happen now.
func (t *Throttler) due() bool {
	if t.now().Sub(t.lastFlush) >= t.cfg.Interval {
		return true
	}
	if t.cfg.Chars <= 0 {
		return false
	}
	return t.sess.TextLen()/t.cfg.Chars > t.lastFlushLen/t.cfg.Chars
}

// MaybeFlush delivers undelivered text if reason is forced or a threshold
// was reached. It reports whether a delivery was attempted.
func (t *Throttler) MaybeFlush(ctx context.Context, reason FlushReason) bool {
	unsent, start := t.sess.unsent()
	if unsent == "" {
		return false
	}
	if !reason.forced() && !t.due() {
		return false
	}

	end := start + len(unsent)
	if t.sess.PendingToolActivity() {
		t.BreakUnit()
	}

	if t.editTarget != "" && t.out.SupportsEdit() {
		unit := t.sess.textRange(t.unitStart, end)
		if strutil.Len(unit) <= t.maxLen() {
			err := t.out.Edit(ctx, t.editTarget, unit)
			t.onDelivered(DeliveryEdit, err)
			if err == nil {
				t.advance(end)
				return true
			}
			t.logger.Warn("edit failed, sending as new message",
				"session_id", t.sess.ID,
				"message_id", t.editTarget,
				"error", err)
		}
		t.BreakUnit()
	}

	t.sendText(ctx, unsent, start, end)
	return true
}

// sendText posts unsent as one or more new messages.
func (t *Throttler) sendText(ctx context.Context, unsent string, start, end int) {
	segments := format.SplitWithContinuation(unsent, t.maxLen(), format.ContinuationMarker)
	sent := 0
	var lastID string
	for _, seg := range segments {
		id, err := t.out.Send(ctx, seg)
		t.onDelivered(DeliverySend, err)
		if err != nil {
			t.logger.Warn("failed to deliver message",
				"session_id", t.sess.ID,
				"length", strutil.Len(seg),
				"error", err)
			continue
		}
		sent++
		lastID = id
	}

	if len(segments) == 1 && sent == 1 && t.out.SupportsEdit() {
		t.editTarget = lastID
		t.unitStart = start
	} else {
		t.editTarget = ""
	}

	// A cancelled context means the send was interrupted, not rejected;
	// leave the text for the final flush.
	if sent == 0 && ctx.Err() != nil {
		return
	}
	t.advance(end)
}

func (t *Throttler) advance(end int) {
	t.sess.markDelivered(end)
	t.lastFlush = t.now()
	t.lastFlushLen = t.sess.TextLen()
	t.sess.activity.Reset()
}

// BreakUnit ends the current edit unit; the next text starts a new message.
func (t *Throttler) BreakUnit() {
	t.editTarget = ""
}

// Notice delivers a standalone message, chunked like text. It always ends
// the current edit unit.
func (t *Throttler) Notice(ctx context.Context, text string) {
	t.BreakUnit()
	if text == "" {
		return
	}
	for _, seg := range format.SplitWithContinuation(text, t.maxLen(), format.ContinuationMarker) {
		_, err := t.out.Send(ctx, seg)
		t.onDelivered(DeliveryNotice, err)
		if err != nil {
			t.logger.Warn("failed to deliver notice",
				"session_id", t.sess.ID,
				"error", err)
			continue
		}
		t.sess.activity.Reset()
	}
}
