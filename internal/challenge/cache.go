// ABOUTME: Thread-safe TTL cache mapping public keys to outstanding challenge nonces.
// ABOUTME: At most one live challenge per key; Take consumes a nonce exactly once.

package challenge

import (
	"sync"
	"time"
)

// DefaultTTL is how long an issued challenge remains valid.
const DefaultTTL = 5 * time.Minute

// entry stores a nonce and the instant it stops being valid.
type entry struct {
	nonce     string
	expiresAt time.Time
}

// Cache holds the outstanding challenge per public key. It is safe for
// concurrent use; the per-key Put/Take atomicity is the serialization point
// for the challenge-response flow. A background goroutine sweeps expired
// entries so abandoned challenges do not accumulate.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a challenge cache with the given TTL and starts the
// background sweeper.
func New(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Put records a challenge for the key, overwriting any prior unconsumed
// challenge. A second device using the same key invalidates the first
// device's pending challenge.
func (c *Cache) Put(key, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{nonce: nonce, expiresAt: c.now().Add(c.ttl)}
}

// Take atomically removes and returns the challenge for the key. It returns
// false if there is no entry or the entry has expired; either way no live
// challenge remains for the key afterwards, so a nonce can be consumed at
// most once.
func (c *Cache) Take(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	delete(c.entries, key)

	if c.now().After(e.expiresAt) {
		return "", false
	}
	return e.nonce, true
}

// Sweep removes every entry that expired before now and returns how many
// were removed. It is invoked by the periodic cleanup engine in addition to
// the cache's own background sweeper.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached challenges, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepLoop periodically removes expired entries until Close is called.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep(c.now())
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
