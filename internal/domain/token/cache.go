package token

import (
	"sync"
	"time"
)

// entry is one cached token record with its expiry.
type entry struct {
	rec     *Record
	expires time.Time
}

// InMemoryCache is a read-concurrent, write-exclusive TTL cache for token
// records. Reloads of the same key on a miss are serialized by a per-key
// mutex so concurrent requests for a cold token do not each hit the store.
type InMemoryCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	loadMu    sync.Mutex
	loadLocks map[string]*sync.Mutex
}

// NewInMemoryCache creates a cache with the given TTL (defaulting to 30s,
// per the Token Resolver contract, if ttl <= 0).
func NewInMemoryCache(ttl time.Duration) *InMemoryCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InMemoryCache{
		ttl:       ttl,
		entries:   make(map[string]entry),
		loadLocks: make(map[string]*sync.Mutex),
	}
}

// Get returns the cached record for id if present and unexpired.
func (c *InMemoryCache) Get(id string) (*Record, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.rec, true
}

// Set stores rec under id with the cache's TTL.
func (c *InMemoryCache) Set(id string, rec *Record) {
	c.mu.Lock()
	c.entries[id] = entry{rec: rec, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate removes id from the cache, called by the management API on
// any mutation to a token so stale capability data cannot outlive a write.
func (c *InMemoryCache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Flush drops every cached record, used by the management API's
// flush_cache endpoint after an out-of-band write to the Store (e.g. a
// bulk import) that the normal per-token Invalidate calls wouldn't cover.
func (c *InMemoryCache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// PerKeyLock returns a mutex scoped to id, used by callers that need to
// serialize a reload-on-miss (e.g. the Resolver wrapping Store.Get).
// Locks are created lazily and never removed; in practice the keyspace is
// bounded by the number of distinct tokens a process has seen, which is
// small relative to request volume.
func (c *InMemoryCache) PerKeyLock(id string) *sync.Mutex {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if l, ok := c.loadLocks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	c.loadLocks[id] = l
	return l
}

// Compile-time check that InMemoryCache implements Cache.
var _ Cache = (*InMemoryCache)(nil)
