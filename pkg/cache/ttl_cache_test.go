package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewTTLCache[string, string]().(*ttlCache[string, string])
	c.now = func() time.Time { return now }

	c.Set("k", "v", time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheNoExpiry(t *testing.T) {
	now := time.Now()
	c := NewTTLCache[string, int]().(*ttlCache[string, int])
	c.now = func() time.Time { return now }

	c.Set("k", 7, 0)
	now = now.Add(24 * time.Hour)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestTTLCacheDelete(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("k", 1, time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
}
