// ABOUTME: Generic TTL set that filters redelivered platform events
// ABOUTME: Bounded by size with oldest-first eviction; expired keys are swept in the background

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry[K comparable] struct {
	seenAt  time.Time
	element *list.Element
}

// Cache remembers keys for a TTL. Keys are evicted oldest first once
// maxSize is reached.
type Cache[K comparable] struct {
	mu      sync.Mutex
	seen    map[K]*entry[K]
	order   *list.List // keys, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its sweeper. Call Close to stop it.
func New[K comparable](ttl time.Duration, maxSize int) *Cache[K] {
	c := newCache[K](ttl, maxSize, time.Now)
	go c.sweep(sweepInterval(ttl))
	return c
}

func newCache[K comparable](ttl time.Duration, maxSize int, now func() time.Time) *Cache[K] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K]{
		seen:    make(map[K]*entry[K]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return max(ttl, time.Second)
	}
	return time.Minute
}

// Seen reports whether key was already recorded within the TTL, and records
// it if not. Concurrent callers with the same key see exactly one false.
func (c *Cache[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.seen[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}
	c.seen[key] = &entry[K]{seenAt: now, element: c.order.PushBack(key)}
	return false
}

// Contains reports whether key is recorded and unexpired without recording it.
func (c *Cache[K]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.seen[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

// Forget drops key so a later delivery is processed again.
func (c *Cache[K]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		c.order.Remove(e.element)
		delete(c.seen, key)
	}
}

// Len returns the number of recorded keys, expired or not.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest must be called with mu held.
func (c *Cache[K]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(K)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache[K]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired walks from the oldest key and stops at the first live one.
func (c *Cache[K]) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(K)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache[K]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
