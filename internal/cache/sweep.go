package cache

import (
	"context"
	"fmt"
	"time"
)

func (c *Cache) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(c.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.safeSweep(ctx); err != nil {
				c.log.Error("cache sweep failed", "error", err)
			}
		}
	}
}

// safeSweep runs one sweep and turns a panic into an error so the loop
// keeps ticking.
func (c *Cache) safeSweep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	c.Sweep(ctx)
	return nil
}

// Sweep removes every stale in-memory entry and its mirror record. It runs
// on the cleanup ticker and may also be called directly.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.now()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	removed := c.store.removeStale(now, c.opts.SchemaVersion)
	c.gen++
	c.mu.Unlock()

	for _, k := range removed {
		c.deleteMirrorRecord(ctx, k)
	}
	if len(removed) > 0 {
		c.log.Debug("cache sweep", "removed", len(removed))
	}
	return len(removed)
}
