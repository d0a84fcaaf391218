package session

import (
	"context"
	"math"
	"sync"
	"time"
)

// Countdown tracks the time left until a fixed deadline.
// Expiry is edge-triggered: it is reported exactly once, on the first
// observation of zero remaining seconds.
type Countdown struct {
	mu       sync.Mutex
	deadline time.Time
	expired  bool
}

func NewCountdown(deadline time.Time) *Countdown {
	return &Countdown{deadline: deadline}
}

func (c *Countdown) Deadline() time.Time {
	return c.deadline
}

// Remaining returns whole seconds left, floor-clamped at zero.
func (c *Countdown) Remaining(now time.Time) int {
	secs := math.Floor(c.deadline.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return int(secs)
}

// Tick samples the countdown. expiredNow is true only for the first
// tick that observes zero.
func (c *Countdown) Tick(now time.Time) (remaining int, expiredNow bool) {
	remaining = c.Remaining(now)

	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining == 0 && !c.expired {
		c.expired = true
		return 0, true
	}
	return remaining, false
}

func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Run ticks every interval until ctx is cancelled. onTick receives the
// remaining seconds on every tick; onExpire is called once. Cancelling
// ctx stops the loop without invoking either callback.
func (c *Countdown) Run(ctx context.Context, interval time.Duration, onTick func(int), onExpire func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	emit := func(now time.Time) bool {
		remaining, expiredNow := c.Tick(now)
		if onTick != nil {
			onTick(remaining)
		}
		if expiredNow && onExpire != nil {
			onExpire()
		}
		return remaining == 0
	}

	if emit(time.Now()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if emit(now) {
				return
			}
		}
	}
}
