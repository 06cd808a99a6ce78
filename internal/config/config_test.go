package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Cache.StoragePrefix != "cache_" {
		t.Fatalf("expected default prefix cache_, got %q", cfg.Cache.StoragePrefix)
	}
	if cfg.Cache.Coalesce {
		t.Fatal("coalescing must be off by default")
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storecache.yaml")
	data := `
cache:
  max_entries: 2
  default_ttl: 30s
  schema_version: "2.0.0"
mirror:
  kind: redis
  redis:
    addr: redis:6379
    db: 3
pool:
  min_connections: 1
  max_connections: 2
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Cache.MaxEntries != 2 {
		t.Fatalf("expected max_entries 2, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.DefaultTTL != 30*time.Second {
		t.Fatalf("expected default_ttl 30s, got %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.SchemaVersion != "2.0.0" {
		t.Fatalf("expected schema 2.0.0, got %q", cfg.Cache.SchemaVersion)
	}
	if cfg.Mirror.Kind != MirrorRedis || cfg.Mirror.Redis.Addr != "redis:6379" || cfg.Mirror.Redis.DB != 3 {
		t.Fatalf("unexpected mirror config: %+v", cfg.Mirror)
	}
	// untouched keys keep defaults
	if cfg.Cache.StoragePrefix != "cache_" {
		t.Fatalf("expected default prefix to survive, got %q", cfg.Cache.StoragePrefix)
	}
	if cfg.Cache.CleanupInterval != time.Minute {
		t.Fatalf("expected default cleanup interval, got %v", cfg.Cache.CleanupInterval)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORECACHE_CACHE_MAX_ENTRIES", "7")
	t.Setenv("STORECACHE_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("STORECACHE_CACHE_COALESCE", "true")
	t.Setenv("STORECACHE_MIRROR_KIND", "s3")
	t.Setenv("STORECACHE_MIRROR_S3_BUCKET", "catalog-cache")
	t.Setenv("STORECACHE_MIRROR_S3_REGION", "eu-west-1")
	t.Setenv("STORECACHE_POOL_MAX_CONNECTIONS", "4")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	if cfg.Cache.MaxEntries != 7 {
		t.Fatalf("expected 7, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.DefaultTTL != 90*time.Second {
		t.Fatalf("expected 90s, got %v", cfg.Cache.DefaultTTL)
	}
	if !cfg.Cache.Coalesce {
		t.Fatal("expected coalesce override")
	}
	if cfg.Mirror.Kind != MirrorS3 || cfg.Mirror.S3.Bucket != "catalog-cache" || cfg.Mirror.S3.Region != "eu-west-1" {
		t.Fatalf("unexpected mirror config: %+v", cfg.Mirror)
	}
	if cfg.Pool.MaxConnections != 4 {
		t.Fatalf("expected 4, got %d", cfg.Pool.MaxConnections)
	}
	// unset variables leave defaults alone
	if cfg.Cache.SchemaVersion != "1.0.0" {
		t.Fatalf("expected default schema version, got %q", cfg.Cache.SchemaVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overridden config should validate: %v", err)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.MaxEntries = 0
	cfg.Mirror.Kind = "floppy"
	cfg.Pool.MinConnections = 5
	cfg.Pool.MaxConnections = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"max_entries", "floppy", "min_connections"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}
