// Package cache provides a TTL-aware LRU cache used by the routing decision
// cache and the response cache. Bounded memory: size eviction plus TTL expiry.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a thread-safe LRU cache with per-entry TTL.
type LRU[K comparable, V any] struct {
	entries    map[K]*entry[K, V]
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	mu         sync.RWMutex
}

type entry[K comparable, V any] struct {
	expiresAt time.Time
	element   *list.Element
	key       K
	value     V
}

// New creates an LRU cache. Non-positive capacity defaults to 1000,
// non-positive TTL to 5 minutes.
func New[K comparable, V any](capacity int, defaultTTL time.Duration) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRU[K, V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		entries:    make(map[K]*entry[K, V]),
		order:      list.New(),
	}
}

// Get retrieves a value. Expired entries are removed on access.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.remove(e)
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e.element)
	return e.value, true
}

// Set stores a value. A non-positive ttl uses the default TTL.
// Entries are overwritten wholesale, never mutated in place.
func (c *LRU[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(e.element)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest.Value.(*entry[K, V]))
	}

	e := &entry[K, V]{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Remove deletes a specific entry. Returns true if it existed.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.remove(e)
		return true
	}
	return false
}

// Contains reports whether key exists and has not expired,
// without updating the access order.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[key]; ok {
		return !time.Now().After(e.expiresAt)
	}
	return false
}

// Size returns the number of entries, expired ones included.
func (c *LRU[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Clear removes all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[K, V])
	c.order.Init()
}

// CleanupExpired removes all expired entries and returns how many.
func (c *LRU[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var expired []*entry[K, V]
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.remove(e)
	}
	return len(expired)
}

// remove deletes an entry. Caller must hold the lock.
func (c *LRU[K, V]) remove(e *entry[K, V]) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}
