package runner

import (
	"context"
	"sync"
	"time"
)

// ActivityTimer tracks the last time a session made forward progress.
type ActivityTimer struct {
	mu           sync.Mutex
	lastActivity time.Time
	window       time.Duration
	now          func() time.Time
}

// NewActivityTimer creates a timer that expires after window without activity.
func NewActivityTimer(window time.Duration) *ActivityTimer {
	return newActivityTimerWithClock(window, time.Now)
}

func newActivityTimerWithClock(window time.Duration, now func() time.Time) *ActivityTimer {
	return &ActivityTimer{
		lastActivity: now(),
		window:       window,
		now:          now,
	}
}

// Reset records activity now.
func (t *ActivityTimer) Reset() {
	t.mu.Lock()
	t.lastActivity = t.now()
	t.mu.Unlock()
}

// LastActivity returns the time of the last recorded activity.
func (t *ActivityTimer) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// Remaining returns the time left before expiry, floored at zero.
func (t *ActivityTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.window - t.now().Sub(t.lastActivity)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the inactivity window has elapsed.
func (t *ActivityTimer) Expired() bool {
	return t.Remaining() <= 0
}

// Watch blocks until the timer expires or ctx is done. It wakes up at least
// every poll interval so that resets are observed promptly. It returns
// ErrInactivityTimeout on expiry and nil when ctx is done.
func (t *ActivityTimer) Watch(ctx context.Context, poll time.Duration) error {
	for {
		remaining := t.Remaining()
		if remaining <= 0 {
			return ErrInactivityTimeout
		}
		wait := remaining
		if poll > 0 && poll < wait {
			wait = poll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
