package provider

import (
	"sync"
	"time"
)

// DefaultCacheMaxAge is how long a cache snapshot is considered fresh.
const DefaultCacheMaxAge = 5 * time.Minute

// Cache is the in-memory mirror of one backend zone's record set. It is
// refreshed wholesale (full replace, never an incremental merge) to avoid
// drift between polls, and mutated in place after successful writes so
// later lookups in the same cycle see them without a remote round trip.
//
// Invariant: at most one entry per (type, normalized name). The
// reconciliation pass is the single logical writer; the mutex exists so a
// concurrent port stays correct.
type Cache struct {
	mu          sync.RWMutex
	records     []Record
	lastRefresh time.Time
	maxAge      time.Duration
}

// NewCache creates an empty cache with the given freshness window.
// A maxAge of zero falls back to DefaultCacheMaxAge.
func NewCache(maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	return &Cache{maxAge: maxAge}
}

// Stale reports whether the cache must be refreshed: never filled, aged
// past the freshness window, or empty.
func (c *Cache) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRefresh.IsZero() || len(c.records) == 0 {
		return true
	}
	return time.Since(c.lastRefresh) > c.maxAge
}

// ReplaceAll atomically swaps in a fresh snapshot.
func (c *Cache) ReplaceAll(records []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make([]Record, len(records))
	copy(c.records, records)
	c.lastRefresh = time.Now()
}

// Snapshot returns a copy of the cached records.
func (c *Cache) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Find looks up a record by type and normalized name.
func (c *Cache) Find(rtype, name string) (Record, bool) {
	key := NormalizeName(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.Type == rtype && NormalizeName(r.Name) == key {
			return r, true
		}
	}
	return Record{}, false
}

// Upsert replaces the cached record with the same (type, normalized name),
// or appends it. Called after a successful create or update.
func (c *Cache) Upsert(rec Record) {
	key := NormalizeName(rec.Name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.records {
		if r.Type == rec.Type && NormalizeName(r.Name) == key {
			c.records[i] = rec
			return
		}
	}
	c.records = append(c.records, rec)
}

// Remove drops the cached record with the same (type, normalized name).
// Called after a successful delete.
func (c *Cache) Remove(rtype, name string) {
	key := NormalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.records {
		if r.Type == rtype && NormalizeName(r.Name) == key {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return
		}
	}
}

// Age returns how old the current snapshot is, or a very large value when
// the cache has never been filled.
func (c *Cache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastRefresh.IsZero() {
		return 1<<62 - 1
	}
	return time.Since(c.lastRefresh)
}
