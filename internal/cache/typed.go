package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Get decodes the payload under key into a T. ok is false on a miss; err is
// set when the stored payload does not decode into T.
func Get[T any](ctx context.Context, c *Cache, key string) (v T, ok bool, err error) {
	data, ok := c.Get(ctx, key)
	if !ok {
		return v, false, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

// Set encodes v as JSON and stores it under key.
func Set[T any](ctx context.Context, c *Cache, key string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// GetOrSet is the typed form of Cache.GetOrSet. On a miss served by this
// caller's fetch the fetched value is returned as is.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error), ttl time.Duration) (T, error) {
	var (
		fetched T
		fresh   bool
	)
	data, err := c.GetOrSet(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		fetched, fresh = v, true
		return raw, nil
	}, ttl)
	if err != nil {
		var zero T
		return zero, err
	}
	if fresh {
		return fetched, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// Refresh is the typed form of Cache.Refresh.
func Refresh[T any](ctx context.Context, c *Cache, key string, fetch func(context.Context) (T, error), ttl time.Duration) (T, error) {
	c.Delete(ctx, key)
	return GetOrSet(ctx, c, key, fetch, ttl)
}
