package hold

import (
	"sync"
	"time"

	"github.com/example/scanbook/internal/booking/domain"
)

// CountdownConfig carries the tick cadence and the observer callbacks.
// Callbacks run on the countdown goroutine and should hand off quickly.
type CountdownConfig struct {
	Tick     time.Duration
	OnTick   func(remaining time.Duration)
	OnExpire func()
}

// Countdown mirrors a server-owned hold deadline on the client. Remaining
// time is recomputed from the absolute ExpiresAt on every tick, never
// decremented, so a delayed or backgrounded tick still reports true
// wall-clock remaining. OnExpire fires exactly once and no further callbacks
// are delivered afterwards.
type Countdown struct {
	hold  domain.Hold
	clock domain.Clock
	cfg   CountdownConfig

	mu      sync.Mutex
	done    chan struct{}
	running bool
	stopped bool
	expired bool
	started time.Time
}

// NewCountdown builds a countdown for the hold. A nil clock defaults to the
// system clock; a non-positive tick defaults to one second.
func NewCountdown(h domain.Hold, clock domain.Clock, cfg CountdownConfig) *Countdown {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Countdown{hold: h, clock: clock, cfg: cfg, done: make(chan struct{})}
}

// Hold returns the mirrored hold.
func (c *Countdown) Hold() domain.Hold { return c.hold }

// Remaining reports the time left on the hold, floored at zero.
func (c *Countdown) Remaining() time.Duration {
	remaining := c.hold.ExpiresAt.Sub(c.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Start launches the ticking goroutine. Calling Start on a stopped, expired
// or already running countdown is a no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.running || c.stopped || c.expired {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.started = c.clock.Now()
	c.mu.Unlock()

	go c.run()
}

func (c *Countdown) run() {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.step() {
				return
			}
		}
	}
}

// step evaluates one tick and reports whether the countdown is finished.
func (c *Countdown) step() bool {
	remaining := c.Remaining()

	c.mu.Lock()
	if c.stopped || c.expired {
		c.mu.Unlock()
		return true
	}
	if remaining > 0 {
		c.mu.Unlock()
		if c.cfg.OnTick != nil {
			c.cfg.OnTick(remaining)
		}
		return false
	}
	c.expired = true
	close(c.done)
	lived := c.clock.Now().Sub(c.started)
	c.mu.Unlock()

	ObserveLifetime(lived.Seconds())
	if c.cfg.OnExpire != nil {
		c.cfg.OnExpire()
	}
	return true
}

// Stop cancels the countdown. Safe to call repeatedly and after expiry; a
// stopped countdown never fires OnExpire.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.expired {
		return
	}
	c.stopped = true
	close(c.done)
}

// Expired reports whether OnExpire has fired.
func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}
