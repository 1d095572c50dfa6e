package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestActivityTimer_Remaining(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	timer := newActivityTimerWithClock(10*time.Minute, clock.Now)

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 6*time.Minute, timer.Remaining())
	assert.False(t, timer.Expired())

	timer.Reset()
	assert.Equal(t, 10*time.Minute, timer.Remaining())

	clock.Advance(11 * time.Minute)
	assert.Equal(t, time.Duration(0), timer.Remaining())
	assert.True(t, timer.Expired())
}

func TestActivityTimer_WatchExpires(t *testing.T) {
	timer := NewActivityTimer(50 * time.Millisecond)
	start := time.Now()
	err := timer.Watch(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrInactivityTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestActivityTimer_WatchObservesResets(t *testing.T) {
	timer := NewActivityTimer(80 * time.Millisecond)
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				timer.Reset()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := timer.Watch(ctx, 10*time.Millisecond)
	close(stop)
	assert.NoError(t, err, "watch must not expire while activity continues")
}
