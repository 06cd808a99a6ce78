package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/oriys/storecache/internal/observability"
	"golang.org/x/sync/errgroup"
)

// FetchFunc computes the value for a key on a miss.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// GetOrSet returns the cached payload for key, or runs fetch, stores its
// result and returns it. A fetch error is returned unchanged and nothing is
// written.
func (c *Cache) GetOrSet(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (json.RawMessage, error) {
	ctx, span := observability.StartSpan(ctx, "cache.get_or_set", observability.AttrCacheKey.String(key))
	defer span.End()

	if data, ok := c.Get(ctx, key); ok {
		span.SetAttributes(observability.AttrCacheHit.Bool(true))
		return data, nil
	}
	span.SetAttributes(observability.AttrCacheHit.Bool(false))

	if !c.opts.Coalesce {
		data, err := c.fetchAndSet(ctx, key, fetch, ttl)
		if err != nil {
			observability.SetSpanError(span, err)
		}
		return data, err
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.fetchAndSet(ctx, key, fetch, ttl)
	})
	span.SetAttributes(observability.AttrCoalesced.Bool(shared))
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	return cloneRaw(v.(json.RawMessage)), nil
}

// Refresh deletes key and then behaves like GetOrSet, forcing fetch to run.
func (c *Cache) Refresh(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (json.RawMessage, error) {
	c.Delete(ctx, key)
	return c.GetOrSet(ctx, key, fetch, ttl)
}

func (c *Cache) fetchAndSet(ctx context.Context, key string, fetch FetchFunc, ttl time.Duration) (json.RawMessage, error) {
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := compactPayload(data)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	if err := c.Set(ctx, key, payload, ttl); err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	return payload, nil
}

// PreloadItem describes one key to warm.
type PreloadItem struct {
	Key   string
	Fetch FetchFunc
	TTL   time.Duration
}

// PreloadReport summarises a Preload run.
type PreloadReport struct {
	Loaded  int
	Skipped int
	Failed  int
}

// Preload fetches and stores every item whose key currently misses. Items
// run independently, bounded by PreloadConcurrency; a failing item is
// logged and never stops the others.
func (c *Cache) Preload(ctx context.Context, items []PreloadItem) PreloadReport {
	ctx, span := observability.StartSpan(ctx, "cache.preload", observability.AttrPreloadItems.Int(len(items)))
	defer span.End()

	var loaded, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(c.opts.PreloadConcurrency)

	for _, item := range items {
		g.Go(func() error {
			if c.present(ctx, item.Key) {
				skipped.Add(1)
				return nil
			}
			if _, err := c.fetchAndSet(ctx, item.Key, item.Fetch, item.TTL); err != nil {
				failed.Add(1)
				c.log.Warn("preload failed", "key", item.Key, "error", err)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := PreloadReport{
		Loaded:  int(loaded.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	c.log.Info("preload finished", "loaded", report.Loaded, "skipped", report.Skipped, "failed", report.Failed)
	return report
}

// present reports whether key holds a valid value in either tier without
// counting a hit or touching HitCount. A valid mirror record is loaded into
// memory.
func (c *Cache) present(ctx context.Context, key string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	e, inMemory := c.store.entries[key]
	if inMemory && e.Valid(c.now(), c.opts.SchemaVersion) {
		c.mu.Unlock()
		return true
	}
	gen := c.gen
	c.mu.Unlock()

	if inMemory || c.opts.Mirror == nil {
		return false
	}
	e, _ = c.fetchRecord(ctx, key)
	if e == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.gen != gen {
		return false
	}
	c.store.put(e)
	return true
}

// GetBatch looks up every key and returns the hits.
func (c *Cache) GetBatch(ctx context.Context, keys []string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if data, ok := c.Get(ctx, k); ok {
			out[k] = data
		}
	}
	return out
}

// BatchItem is one write for SetBatch.
type BatchItem struct {
	Key  string
	Data json.RawMessage
	TTL  time.Duration
}

// SetBatch writes every item. A failing item does not undo the others; all
// failures are returned joined.
func (c *Cache) SetBatch(ctx context.Context, items []BatchItem) error {
	var errs []error
	for _, item := range items {
		if err := c.Set(ctx, item.Key, item.Data, item.TTL); err != nil {
			errs = append(errs, fmt.Errorf("set %s: %w", item.Key, err))
		}
	}
	return errors.Join(errs...)
}
