// ABOUTME: Thread-safe TTL cache of tool-call results keyed by conversation and tool call id.
// ABOUTME: Lets the dispatcher answer a replayed tool call without running the tool twice.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Status describes what the cache knows about a key.
type Status int

const (
	// StatusNew means the key was unknown and is now claimed by the caller.
	StatusNew Status = iota
	// StatusPending means another caller claimed the key and has not completed it.
	StatusPending
	// StatusDone means a result is stored for the key.
	StatusDone
)

// cacheEntry stores the timestamp, list element and result for a key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
	result    []byte
	done      bool
}

// Cache is a TTL-based, size-limited result cache.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Claim atomically looks up key and claims it when it is unknown or expired.
// For StatusDone the stored result is returned as well.
func (c *Cache) Claim(key string) (Status, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok && time.Since(entry.timestamp) < c.ttl {
		if entry.done {
			return StatusDone, entry.result
		}
		return StatusPending, nil
	}

	c.putLocked(key, nil, false)
	return StatusNew, nil
}

// Complete stores the result for a claimed key and refreshes its timestamp.
// It reports false and stores nothing when the claim was forgotten, evicted
// or expired in the meantime.
func (c *Cache) Complete(key string, result []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.putLocked(key, result, true)
	return true
}

// Forget removes key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// ForgetPrefix removes every key starting with prefix and returns how many
// were removed.
func (c *Cache) ForgetPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(entry.element)
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// putLocked inserts or updates key. Must be called with mu held.
func (c *Cache) putLocked(key string, result []byte, done bool) {
	now := time.Now()

	if entry, exists := c.entries[key]; exists {
		entry.timestamp = now
		entry.result = result
		entry.done = done
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{
		timestamp: now,
		element:   elem,
		result:    result,
		done:      done,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
