package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	c := NewTTLCache[int](5 * time.Second)
	c.now = func() time.Time { return now }

	_, ok := c.Get()
	assert.False(t, ok, "empty cache")

	assert.True(t, c.SetIfGeneration(42, c.Generation()))
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	now = now.Add(4 * time.Second)
	_, ok = c.Get()
	assert.True(t, ok, "still within ttl")

	now = now.Add(time.Second)
	_, ok = c.Get()
	assert.False(t, ok, "expired at ttl")
}

func TestTTLCacheGenerationGuard(t *testing.T) {
	c := NewTTLCache[string](time.Minute)

	gen := c.Generation()
	c.Invalidate()
	assert.False(t, c.SetIfGeneration("stale", gen), "load raced with an invalidation")
	_, ok := c.Get()
	assert.False(t, ok)

	assert.True(t, c.SetIfGeneration("fresh", c.Generation()))
	v, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)

	c.Invalidate()
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestTTLCacheDisabled(t *testing.T) {
	c := NewTTLCache[int](0)
	assert.False(t, c.SetIfGeneration(1, c.Generation()))
	_, ok := c.Get()
	assert.False(t, ok)
}
