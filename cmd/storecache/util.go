package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/storecache/internal/cache"
	"github.com/oriys/storecache/internal/config"
	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/mirror"
	"github.com/oriys/storecache/internal/pool"
)

const openTimeout = 10 * time.Second

// openMirror builds the configured mirror, or nil when persistence is off.
func openMirror(ctx context.Context, c *config.Config) (mirror.Mirror, error) {
	if !c.Cache.EnablePersistence {
		return nil, nil
	}
	switch c.Mirror.Kind {
	case "", config.MirrorNone:
		return nil, nil
	case config.MirrorMemory:
		return mirror.NewMemory(), nil
	case config.MirrorSQLite:
		return mirror.OpenSQLite(c.Mirror.SQLitePath)
	case config.MirrorRedis:
		return mirror.NewRedis(ctx, mirror.RedisConfig{
			Addr:     c.Mirror.Redis.Addr,
			Password: c.Mirror.Redis.Password,
			DB:       c.Mirror.Redis.DB,
		})
	case config.MirrorS3:
		return mirror.NewS3(ctx, mirror.S3Config{
			Bucket:         c.Mirror.S3.Bucket,
			Region:         c.Mirror.S3.Region,
			AccessKeyID:    c.Mirror.S3.AccessKeyID,
			SecretKey:      c.Mirror.S3.SecretKey,
			Endpoint:       c.Mirror.S3.Endpoint,
			ForcePathStyle: c.Mirror.S3.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown mirror kind %q", c.Mirror.Kind)
	}
}

func cacheOptions(c *config.Config, m mirror.Mirror) cache.Options {
	return cache.Options{
		MaxEntries:         c.Cache.MaxEntries,
		DefaultTTL:         c.Cache.DefaultTTL,
		CleanupInterval:    c.Cache.CleanupInterval,
		StoragePrefix:      c.Cache.StoragePrefix,
		SchemaVersion:      c.Cache.SchemaVersion,
		Coalesce:           c.Cache.Coalesce,
		PreloadConcurrency: c.Cache.PreloadConcurrency,
		Mirror:             m,
		Logger:             logging.Component("cache"),
	}
}

// openCache opens the mirror and hydrates a cache from it. One-shot
// commands pass sweep=false.
func openCache(ctx context.Context, sweep bool) (*cache.Cache, error) {
	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()

	m, err := openMirror(openCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s mirror: %w", cfg.Mirror.Kind, err)
	}
	opts := cacheOptions(cfg, m)
	if !sweep {
		opts.CleanupInterval = -1
	}
	return cache.New(openCtx, opts)
}

func openPool(ctx context.Context) (*pool.Pool[*pgx.Conn], error) {
	if cfg.Pool.DSN == "" {
		return nil, fmt.Errorf("backend DSN is required (--pg-dsn or STORECACHE_POOL_DSN)")
	}
	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	return pool.NewPgx(openCtx, pool.Config{
		MinConnections: cfg.Pool.MinConnections,
		MaxConnections: cfg.Pool.MaxConnections,
	}, cfg.Pool.DSN, pool.WithLogger[*pgx.Conn](logging.Component("pool")))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
