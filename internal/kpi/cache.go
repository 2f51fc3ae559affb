package kpi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ValueCache is an in-memory TTL cache for the latest KPI values, keyed by
// KPI id and by KPI id + period. Cache state is best-effort: a restart
// costs one miss per key, nothing more.
type ValueCache struct {
	data    map[string]*valueEntry
	maxTTL  time.Duration
	mu      sync.RWMutex
	cleanup *time.Ticker
	done    chan struct{}
}

type valueEntry struct {
	value      *Value
	expiration time.Time
}

// NewValueCache creates a cache. maxTTL caps per-entry TTLs and is the
// fallback when callers pass no TTL.
func NewValueCache(maxTTL time.Duration) *ValueCache {
	c := &ValueCache{
		data:    make(map[string]*valueEntry),
		maxTTL:  maxTTL,
		cleanup: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func cacheKey(kpiID uuid.UUID, period string) string {
	if period == "" {
		return kpiID.String()
	}
	return kpiID.String() + ":" + period
}

// Get returns the cached latest value for a KPI, optionally scoped to a period.
func (c *ValueCache) Get(kpiID uuid.UUID, period string) (*Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[cacheKey(kpiID, period)]
	if !ok || time.Now().After(entry.expiration) {
		return nil, false
	}
	return entry.value, true
}

// Put stores a value under both the bare-id key and the id+period key.
// Callers use it only for values known to be the latest across periods.
func (c *ValueCache) Put(v *Value, ttl time.Duration) {
	entry := c.entry(v, ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(v.KPIID, "")] = entry
	if v.Period != "" {
		c.data[cacheKey(v.KPIID, v.Period)] = entry
	}
}

// PutPeriod stores a value under its id+period key only, leaving the
// bare-id key untouched. Used for period-scoped fetches, which may return
// a row older than the latest across periods.
func (c *ValueCache) PutPeriod(v *Value, ttl time.Duration) {
	if v.Period == "" {
		c.Put(v, ttl)
		return
	}
	entry := c.entry(v, ttl)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[cacheKey(v.KPIID, v.Period)] = entry
}

func (c *ValueCache) entry(v *Value, ttl time.Duration) *valueEntry {
	if ttl <= 0 || ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	return &valueEntry{value: v, expiration: time.Now().Add(ttl)}
}

// Invalidate drops every cached entry for a KPI.
func (c *ValueCache) Invalidate(kpiID uuid.UUID) {
	prefix := kpiID.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.data {
		if key == prefix || (len(key) > len(prefix) && key[:len(prefix)] == prefix && key[len(prefix)] == ':') {
			delete(c.data, key)
		}
	}
}

// Size returns the number of live entries.
func (c *ValueCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func (c *ValueCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *ValueCache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.data {
		if now.After(entry.expiration) {
			delete(c.data, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (c *ValueCache) Stop() {
	c.cleanup.Stop()
	close(c.done)
}
