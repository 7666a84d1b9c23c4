package notify

import (
	"sync"
	"time"
)

// Cooldown suppresses repeats of the same alert key within a window so a
// listing that keeps failing does not flood the chat channels. Safe for
// concurrent use.
type Cooldown struct {
	mu     sync.Mutex
	sent   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// NewCooldown creates a Cooldown. A non-positive window disables suppression.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{
		sent:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether key may fire now. An allowed key is recorded and
// suppressed until the window has passed.
func (c *Cooldown) Allow(key string) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if last, ok := c.sent[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.sent[key] = now
	return true
}

// Sweep drops expired keys and returns how many were removed.
func (c *Cooldown) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, ts := range c.sent {
		if now.Sub(ts) >= c.window {
			delete(c.sent, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (c *Cooldown) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}
