package match

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultDuration is the length of a timed duel.
const DefaultDuration = 5 * time.Minute

// Timer is a one-second-resolution countdown. It fires its expiry callback
// once, outside its lock.
type Timer struct {
	mu        sync.Mutex
	duration  time.Duration
	remaining time.Duration
	onExpire  func()
	expired   bool

	// step is the wall-clock interval between ticks in Run.
	step time.Duration
}

// NewTimer creates a countdown of d. onExpire may be nil.
func NewTimer(d time.Duration, onExpire func()) *Timer {
	return &Timer{
		duration:  d,
		remaining: d,
		onExpire:  onExpire,
		step:      time.Second,
	}
}

// Tick removes one second and reports whether the timer has expired.
func (t *Timer) Tick() bool {
	t.mu.Lock()
	if t.expired {
		t.mu.Unlock()
		return true
	}
	t.remaining -= time.Second
	if t.remaining > 0 {
		t.mu.Unlock()
		return false
	}
	t.remaining = 0
	t.expired = true
	onExpire := t.onExpire
	t.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
	return true
}

// Remaining returns the time left.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Expired reports whether the countdown reached zero.
func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

// Reset rewinds the countdown to its full duration.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining = t.duration
	t.expired = false
}

// Run ticks once per second while active reports true. It returns when ctx
// is done or the timer expires.
func (t *Timer) Run(ctx context.Context, active func() bool) {
	ticker := time.NewTicker(t.step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if active != nil && !active() {
				continue
			}
			if t.Tick() {
				return
			}
		}
	}
}

// FormatTime renders a countdown as m:ss.
func FormatTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
