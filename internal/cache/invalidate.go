package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/oriys/storecache/internal/mirror"
)

// Delete removes key from both tiers and reports whether it existed in
// either of them. It is a no-op returning false after Close.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	existed := c.store.remove(key)
	c.gen++
	c.mu.Unlock()

	if c.opts.Mirror == nil {
		return existed
	}
	if !existed {
		_, err := c.opts.Mirror.Get(ctx, c.mirrorKey(key))
		existed = err == nil
		if err != nil && !errors.Is(err, mirror.ErrNotFound) {
			c.mirrorFailed("get", key, err)
		}
	}
	c.deleteMirrorRecord(ctx, key)
	return existed
}

// DeletePattern removes every key in either tier whose un-prefixed name
// matches the regular expression pattern and returns how many distinct keys
// were removed. Zero matches is not an error. After Close it returns
// ErrClosed.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	removed := make(map[string]struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	c.gen++
	for _, k := range c.store.keys() {
		if re.MatchString(k) {
			c.store.remove(k)
			removed[k] = struct{}{}
		}
	}
	c.mu.Unlock()

	for _, k := range c.mirrorKeys(ctx) {
		if re.MatchString(k) {
			c.deleteMirrorRecord(ctx, k)
			removed[k] = struct{}{}
		}
	}

	if len(removed) > 0 {
		c.log.Debug("pattern invalidation", "pattern", pattern, "removed", len(removed))
	}
	return len(removed), nil
}

// Clear removes every entry from memory and every record under the storage
// prefix from the mirror. Counters are kept. Clear does nothing after Close.
func (c *Cache) Clear(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.store.clear()
	c.gen++
	c.mu.Unlock()

	for _, k := range c.mirrorKeys(ctx) {
		c.deleteMirrorRecord(ctx, k)
	}
}
