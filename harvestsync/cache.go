// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package harvestsync

import (
	"container/list"
	"time"
)

// Cache is a bounded LRU cache with optional TTL expiry. A stored value
// may itself be a typed nil (e.g. the resolver caches *int64(nil) for
// "confirmed absent"); Get distinguishes that from a missing key via its
// second return value.
//
// Cache is not safe for concurrent use. Its owner serializes access;
// the connector holds one cache per entity kind behind its own mutex.
type Cache[K comparable, V any] struct {
	maxSize int
	ttl     time.Duration // <= 0 disables expiry

	entries map[K]*list.Element
	order   *list.List // front = most recently used

	hits   int64
	misses int64

	now func() time.Time // swapped out in tests
}

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	touchedAt time.Time
}

// CacheStats is a point-in-time snapshot of a cache's counters.
type CacheStats struct {
	Size    int           `json:"size"`
	MaxSize int           `json:"max_size"`
	Hits    int64         `json:"hits"`
	Misses  int64         `json:"misses"`
	HitRate float64       `json:"hit_rate"`
	TTL     time.Duration `json:"ttl"`
}

// NewCache creates a cache holding at most maxSize entries. maxSize
// values below 1 are clamped to 1. ttl <= 0 disables expiry.
func NewCache[K comparable, V any](maxSize int, ttl time.Duration) *Cache[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K, V]{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[K]*list.Element, maxSize),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the value for key. A hit refreshes the entry's recency and
// renews its TTL. An expired entry is removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	ent := el.Value.(*cacheEntry[K, V])
	if c.expired(ent) {
		c.remove(el)
		c.misses++
		return zero, false
	}
	ent.touchedAt = c.now()
	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Set inserts or updates key. Updating an existing key refreshes its
// recency without changing the cache size. When an insert would exceed
// maxSize, the least-recently-used entry is evicted first.
func (c *Cache[K, V]) Set(key K, value V) {
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry[K, V])
		ent.value = value
		ent.touchedAt = c.now()
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.maxSize {
		if tail := c.order.Back(); tail != nil {
			c.remove(tail)
		}
	}
	el := c.order.PushFront(&cacheEntry[K, V]{key: key, value: value, touchedAt: c.now()})
	c.entries[key] = el
}

// Has reports whether key is present and unexpired. It counts as an
// access, so it refreshes recency and bumps the hit/miss counters.
func (c *Cache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key if present.
func (c *Cache[K, V]) Delete(key K) {
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Clear empties the cache and resets the hit/miss counters.
func (c *Cache[K, V]) Clear() {
	c.entries = make(map[K]*list.Element, c.maxSize)
	c.order.Init()
	c.hits = 0
	c.misses = 0
}

// Len returns the number of entries, including any not yet lazily
// expired.
func (c *Cache[K, V]) Len() int { return c.order.Len() }

// Stats returns a snapshot of the cache counters. HitRate is 0 until the
// first access.
func (c *Cache[K, V]) Stats() CacheStats {
	s := CacheStats{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		TTL:     c.ttl,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[K, V]) expired(ent *cacheEntry[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(ent.touchedAt) > c.ttl
}

func (c *Cache[K, V]) remove(el *list.Element) {
	ent := el.Value.(*cacheEntry[K, V])
	delete(c.entries, ent.key)
	c.order.Remove(el)
}
