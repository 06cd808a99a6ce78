package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Entries      int    `json:"entries"`
	MemoryBytes  int64  `json:"memory_bytes_estimate"`
	Evictions    uint64 `json:"evictions"`
	Expirations  uint64 `json:"expirations"`
	MirrorErrors uint64 `json:"mirror_errors"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Get returns the payload stored under key. The second result is false on a
// miss: absent, expired, or written under another schema version. Stale
// entries are removed from both tiers as a side effect.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	data, res := c.store.lookup(key, c.now(), c.opts.SchemaVersion)
	gen := c.gen
	c.mu.Unlock()
	if res == lookupHit {
		return data, true
	}
	if c.opts.Mirror == nil {
		c.countMiss()
		return nil, false
	}

	if res == lookupAbsent {
		if data, ok, settled := c.readThrough(ctx, key, gen); settled {
			if !ok {
				c.countMiss()
			}
			return data, ok
		}
	}
	return c.getLocked(ctx, key, res == lookupStale)
}

// getLocked finishes a miss with writeMu held, for stale entries and for
// mirror reads that raced a write.
func (c *Cache) getLocked(ctx context.Context, key string, stale bool) (json.RawMessage, bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// Another writer may have filled the slot while we waited.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, false
	}
	data, res := c.store.lookup(key, c.now(), c.opts.SchemaVersion)
	c.mu.Unlock()
	if res == lookupHit {
		return data, true
	}

	if stale || res == lookupStale {
		c.deleteMirrorRecord(ctx, key)
	} else {
		e, drop := c.fetchRecord(ctx, key)
		switch {
		case drop:
			c.deleteMirrorRecord(ctx, key)
		case e != nil:
			if data, ok := c.admit(e, nil); ok {
				return data, true
			}
		}
	}
	c.countMiss()
	return nil, false
}

func (c *Cache) countMiss() {
	c.mu.Lock()
	c.store.misses++
	c.mu.Unlock()
}

// Set stores data under key for ttl (DefaultTTL when ttl <= 0) and writes
// it through to the mirror. data must be valid JSON. Overwriting resets the
// entry's hit count and creation time.
func (c *Cache) Set(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) error {
	payload, err := compactPayload(data)
	if err != nil {
		return err
	}

	ttl = c.ttlOrDefault(ttl).Truncate(time.Millisecond)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	e := &Entry{
		Key:       key,
		Data:      payload,
		CreatedAt: truncateMillis(c.now()),
		TTL:       ttl,
		Version:   c.opts.SchemaVersion,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	evicted := c.store.put(e)
	c.gen++
	c.mu.Unlock()

	if evicted != "" {
		c.log.Debug("entry evicted", "key", evicted, "for", key)
	}
	c.writeRecord(ctx, e)
	return nil
}

// Has reports whether key holds a valid in-memory entry without counting a
// hit or a miss.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store.entries[key]
	return ok && e.Valid(c.now(), c.opts.SchemaVersion)
}

// Keys returns the keys currently held in memory, valid or not.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.keys()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:         c.store.hits,
		Misses:       c.store.misses,
		Entries:      c.store.len(),
		MemoryBytes:  c.store.memoryBytes(),
		Evictions:    c.store.evictions,
		Expirations:  c.store.expirations,
		MirrorErrors: c.store.mirrorErrors,
	}
}
