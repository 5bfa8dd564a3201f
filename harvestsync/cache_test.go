// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	assert.False(t, c.Has("a"), "oldest entry should have been evicted")
	assert.True(t, c.Has("b"))
	assert.True(t, c.Has("c"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_GetRefreshesRecency(t *testing.T) {
	c := NewCache[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	_, ok := c.Get("a") // a becomes most recently used
	require.True(t, ok)

	c.Set("c", 3)
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"), "b was least recently used and should be gone")
	assert.True(t, c.Has("c"))
}

func TestCache_TTLExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewCache[string, int](10, time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", 42)

	now = now.Add(500 * time.Millisecond)
	v, ok := c.Get("k")
	require.True(t, ok, "entry should still be live at t=500ms")
	assert.Equal(t, 42, v)

	// The hit above renewed the TTL; expire from the renewed timestamp.
	now = now.Add(1001 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry should have expired")
	assert.Equal(t, 0, c.Len(), "expired entry is removed on access")
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewCache[string, int](10, 0)
	c.now = func() time.Time { return now }

	c.Set("k", 1)
	now = now.Add(365 * 24 * time.Hour)
	assert.True(t, c.Has("k"))
}

func TestCache_NilValueIsPresent(t *testing.T) {
	// The resolver caches *int64(nil) as "confirmed absent"; that must
	// read back as a hit, distinct from a missing key.
	c := NewCache[string, *int64](10, 0)
	c.Set("missing-upstream", nil)

	v, ok := c.Get("missing-upstream")
	require.True(t, ok)
	assert.Nil(t, v)

	_, ok = c.Get("never-set")
	assert.False(t, ok)
}

func TestCache_ResetExistingKeyKeepsSize(t *testing.T) {
	c := NewCache[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // update, not insert

	assert.Equal(t, 2, c.Len())
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.True(t, c.Has("b"), "update must not evict anything")

	// The update also made a most-recently-used again.
	c.Set("c", 3)
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))
}

func TestCache_SingleSlot(t *testing.T) {
	c := NewCache[string, int](1, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	assert.False(t, c.Has("a"))
	v, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCache_MaxSizeClampedToOne(t *testing.T) {
	c := NewCache[string, int](0, 0)
	c.Set("a", 1)
	assert.True(t, c.Has("a"))
	assert.Equal(t, 1, c.Stats().MaxSize)
}

func TestCache_Stats(t *testing.T) {
	c := NewCache[string, int](10, time.Minute)

	assert.Equal(t, float64(0), c.Stats().HitRate, "no requests yet")

	c.Set("a", 1)
	for i := 0; i < 3; i++ {
		c.Get("a")
	}
	c.Get("nope")

	s := c.Stats()
	assert.Equal(t, int64(3), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 0.75, s.HitRate)
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, time.Minute, s.TTL)
}

func TestCache_ClearResetsCounters(t *testing.T) {
	c := NewCache[string, int](10, 0)
	c.Set("a", 1)
	c.Get("a")
	c.Get("b")

	c.Clear()
	s := c.Stats()
	assert.Equal(t, 0, s.Size)
	assert.Equal(t, int64(0), s.Hits)
	assert.Equal(t, int64(0), s.Misses)
}
