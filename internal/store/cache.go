package store

import (
	"sync"
	"time"
)

// TTLCache holds one value for a fixed time-to-live.
//
// Invalidate bumps a generation counter; a reader that loaded a value from
// the primary store before an invalidation cannot publish it afterwards
// (see SetIfGeneration), so a write followed by a read never observes the
// pre-write value.
type TTLCache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	value   T
	expires time.Time
	valid   bool
	gen     uint64
}

// NewTTLCache returns an empty cache. A ttl <= 0 disables caching.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	return &TTLCache[T]{ttl: ttl, now: time.Now}
}

// Get returns the cached value if present and not expired.
func (c *TTLCache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.valid || c.ttl <= 0 {
		return zero, false
	}
	if !c.now().Before(c.expires) {
		c.valid = false
		c.value = zero
		return zero, false
	}
	return c.value, true
}

// Generation returns the current invalidation generation.
func (c *TTLCache[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetIfGeneration stores v only if no invalidation happened since gen was
// read. It reports whether the value was stored.
func (c *TTLCache[T]) SetIfGeneration(v T, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl <= 0 || gen != c.gen {
		return false
	}
	c.value = v
	c.valid = true
	c.expires = c.now().Add(c.ttl)
	return true
}

// Invalidate drops the cached value.
func (c *TTLCache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	c.value = zero
	c.valid = false
	c.gen++
}
