// Package cache holds the response caches used by the market data gateway.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Store is a byte cache with a fixed time-to-live per entry
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte) error
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Stats are cumulative counters for a Memory cache
type Stats struct {
	Hits      uint64
	Misses    uint64
	Expired   uint64
	Evictions uint64
}

type entry struct {
	value    []byte
	storedAt time.Time
}

// Memory is a bounded LRU cache. Entries older than the TTL are removed
// when they are looked up, so a stale value is never returned.
type Memory struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, entry]
	ttl time.Duration
	now Clock
	// quiet suppresses eviction counting while stale entries are dropped
	quiet bool

	hits, misses, expired, evictions atomic.Uint64
}

// NewMemory creates a cache holding at most maxEntries values
func NewMemory(maxEntries int, ttl time.Duration, clock Clock) (*Memory, error) {
	if clock == nil {
		clock = time.Now
	}
	m := &Memory{ttl: ttl, now: clock}
	l, err := simplelru.NewLRU[string, entry](maxEntries, func(string, entry) {
		if !m.quiet {
			m.evictions.Add(1)
		}
	})
	if err != nil {
		return nil, err
	}
	m.lru = l
	return m, nil
}

// Get returns the cached value for key if it is younger than the TTL
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lru.Get(key)
	if !ok {
		m.misses.Add(1)
		return nil, false
	}
	if m.now().Sub(e.storedAt) >= m.ttl {
		m.quiet = true
		m.lru.Remove(key)
		m.quiet = false
		m.expired.Add(1)
		m.misses.Add(1)
		return nil, false
	}
	m.hits.Add(1)
	return e.value, true
}

// Set stores value under key stamped with the current time
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, entry{value: value, storedAt: m.now()})
	return nil
}

// Len returns the number of entries, including stale ones not yet looked up
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// Purge drops every entry
func (m *Memory) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quiet = true
	m.lru.Purge()
	m.quiet = false
}

// Stats returns a snapshot of the cache counters
func (m *Memory) Stats() Stats {
	return Stats{
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Expired:   m.expired.Load(),
		Evictions: m.evictions.Load(),
	}
}
