// ABOUTME: Keyed mutex serializing work per conversation context
// ABOUTME: Lock entries are reference counted and removed when the last holder unlocks

package keylock

import (
	"context"
	"sync"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// Map hands out one lock per key. The zero value is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// Lock blocks until key is free or ctx is done. On success the returned
// function releases the lock and must be called exactly once.
func (m *Map) Lock(ctx context.Context, key string) (func(), error) {
	e := m.acquire(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.release(key, e)
		})
	}, nil
}

func (m *Map) acquire(key string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks == nil {
		m.locks = make(map[string]*lockEntry)
	}
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Map) release(key string, e *lockEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
