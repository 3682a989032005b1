package scanner

import (
	"sync"
	"time"
)

// Cooldown suppresses re-entry attempts on a symbol for a TTL after the
// previous attempt. It is safe for concurrent use.
type Cooldown struct {
	seen map[string]time.Time // symbol -> last attempt
	ttl  time.Duration
	mu   sync.Mutex
}

// NewCooldown creates a Cooldown with the given TTL.
func NewCooldown(ttl time.Duration) *Cooldown {
	return &Cooldown{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Active reports whether symbol was marked within the TTL of now.
func (c *Cooldown) Active(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.seen[symbol]
	return ok && now.Sub(last) < c.ttl
}

// Mark records an attempt on symbol at now.
func (c *Cooldown) Mark(symbol string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[symbol] = now
}

// Cleanup removes entries older than the TTL.
func (c *Cooldown) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s, ts := range c.seen {
		if now.Sub(ts) >= c.ttl {
			delete(c.seen, s)
		}
	}
}
