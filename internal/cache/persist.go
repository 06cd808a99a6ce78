package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/oriys/storecache/internal/mirror"
)

func (c *Cache) mirrorKey(key string) string {
	return c.opts.StoragePrefix + key
}

// hydrate loads every valid mirror record under the prefix into memory and
// deletes invalid ones. Mirror failures leave the cache empty but usable.
func (c *Cache) hydrate(ctx context.Context) {
	m := c.opts.Mirror
	keys, err := m.Keys(ctx, c.opts.StoragePrefix)
	if err != nil {
		c.mirrorFailed("list", "", err)
		return
	}

	now := c.now()
	loaded := make(map[string]struct{}, len(keys))
	var dropped int
	for _, mk := range keys {
		key := strings.TrimPrefix(mk, c.opts.StoragePrefix)
		if _, seen := loaded[key]; seen {
			continue
		}
		raw, err := m.Get(ctx, mk)
		if err != nil {
			if !errors.Is(err, mirror.ErrNotFound) {
				c.mirrorFailed("get", key, err)
			}
			continue
		}
		e, err := decodeRecord(key, raw)
		if err != nil || !e.Valid(now, c.opts.SchemaVersion) {
			dropped++
			c.deleteMirrorRecord(ctx, key)
			continue
		}
		c.mu.Lock()
		c.store.put(e)
		c.mu.Unlock()
		loaded[key] = struct{}{}
	}

	c.log.Info("cache hydrated from mirror",
		"prefix", c.opts.StoragePrefix,
		"loaded", len(loaded),
		"dropped", dropped,
		"version", c.opts.SchemaVersion,
	)
}

// fetchRecord reads key's mirror record. It returns the entry when the
// record is valid, and drop=true when the record is corrupt or stale.
func (c *Cache) fetchRecord(ctx context.Context, key string) (e *Entry, drop bool) {
	raw, err := c.opts.Mirror.Get(ctx, c.mirrorKey(key))
	if err != nil {
		if !errors.Is(err, mirror.ErrNotFound) {
			c.mirrorFailed("get", key, err)
		}
		return nil, false
	}
	e, err = decodeRecord(key, raw)
	if err != nil {
		c.log.Warn("dropping corrupt mirror record", "key", key, "error", err)
		return nil, true
	}
	if !e.Valid(c.now(), c.opts.SchemaVersion) {
		return nil, true
	}
	return e, false
}

// admit loads a mirror entry into memory as a hit. With gen set, it refuses
// when a write happened since gen was read.
func (c *Cache) admit(e *Entry, gen *uint64) (json.RawMessage, bool) {
	e.HitCount = 1
	data := cloneRaw(e.Data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (gen != nil && *gen != c.gen) {
		return nil, false
	}
	c.store.put(e)
	c.store.hits++
	return data, true
}

// readThrough consults the mirror after a memory miss without holding
// writeMu, so a slow mirror only delays this key. settled is false when a
// concurrent write or Close made the result unusable; the caller then
// retries under writeMu.
func (c *Cache) readThrough(ctx context.Context, key string, gen uint64) (data json.RawMessage, ok, settled bool) {
	e, drop := c.fetchRecord(ctx, key)
	if e == nil && !drop {
		return nil, false, true
	}
	if e != nil {
		if data, ok := c.admit(e, &gen); ok {
			return data, true, true
		}
		return nil, false, false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	current := !c.closed && c.gen == gen
	c.mu.Unlock()
	if !current {
		return nil, false, false
	}
	c.deleteMirrorRecord(ctx, key)
	return nil, false, true
}

// writeRecord writes e through to the mirror. Failures are logged and
// swallowed; memory stays authoritative.
func (c *Cache) writeRecord(ctx context.Context, e *Entry) {
	if c.opts.Mirror == nil {
		return
	}
	raw, err := encodeRecord(e)
	if err != nil {
		c.mirrorFailed("encode", e.Key, err)
		return
	}
	if err := c.opts.Mirror.Put(ctx, c.mirrorKey(e.Key), raw); err != nil {
		c.mirrorFailed("put", e.Key, err)
	}
}

func (c *Cache) deleteMirrorRecord(ctx context.Context, key string) {
	if c.opts.Mirror == nil {
		return
	}
	if err := c.opts.Mirror.Delete(ctx, c.mirrorKey(key)); err != nil {
		c.mirrorFailed("delete", key, err)
	}
}

// mirrorKeys lists un-prefixed keys currently stored in the mirror.
func (c *Cache) mirrorKeys(ctx context.Context) []string {
	if c.opts.Mirror == nil {
		return nil
	}
	keys, err := c.opts.Mirror.Keys(ctx, c.opts.StoragePrefix)
	if err != nil {
		c.mirrorFailed("list", "", err)
		return nil
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, c.opts.StoragePrefix)
	}
	return keys
}

func (c *Cache) mirrorFailed(op, key string, err error) {
	c.mu.Lock()
	c.store.mirrorErrors++
	c.mu.Unlock()
	c.log.Warn("mirror operation failed", "op", op, "key", key, "error", err)
}
