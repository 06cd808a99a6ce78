// Package config loads storecache settings from a YAML (or JSON) file and
// applies STORECACHE_* environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STORECACHE_"

// Mirror backend kinds.
const (
	MirrorNone   = "none"
	MirrorMemory = "memory"
	MirrorSQLite = "sqlite"
	MirrorRedis  = "redis"
	MirrorS3     = "s3"
)

// CacheConfig holds entry store and orchestrator settings.
type CacheConfig struct {
	MaxEntries         int           `yaml:"max_entries" env:"MAX_ENTRIES"`
	DefaultTTL         time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	EnablePersistence  bool          `yaml:"enable_persistence" env:"ENABLE_PERSISTENCE"`
	StoragePrefix      string        `yaml:"storage_prefix" env:"STORAGE_PREFIX"`
	SchemaVersion      string        `yaml:"schema_version" env:"SCHEMA_VERSION"`
	Coalesce           bool          `yaml:"coalesce" env:"COALESCE"`
	PreloadConcurrency int           `yaml:"preload_concurrency" env:"PRELOAD_CONCURRENCY"`
}

// RedisConfig holds Redis connection settings for the Redis mirror.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// S3Config holds bucket settings for the S3 mirror.
type S3Config struct {
	Bucket         string `yaml:"bucket" env:"BUCKET"`
	Region         string `yaml:"region" env:"REGION"`
	Endpoint       string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID    string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretKey      string `yaml:"secret_key" env:"SECRET_KEY"`
	ForcePathStyle bool   `yaml:"force_path_style" env:"FORCE_PATH_STYLE"`
}

// MirrorConfig selects and configures the persistent mirror backend.
type MirrorConfig struct {
	Kind       string      `yaml:"kind" env:"KIND"`
	SQLitePath string      `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Redis      RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
	S3         S3Config    `yaml:"s3" envPrefix:"S3_"`
}

// PoolConfig holds backing-service connection pool settings.
type PoolConfig struct {
	MinConnections int    `yaml:"min_connections" env:"MIN_CONNECTIONS"`
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	DSN            string `yaml:"dsn" env:"DSN"`
}

// LogConfig holds operational logger settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Exporter    string  `yaml:"exporter" env:"EXPORTER"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate  float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Cache   CacheConfig   `yaml:"cache" envPrefix:"CACHE_"`
	Mirror  MirrorConfig  `yaml:"mirror" envPrefix:"MIRROR_"`
	Pool    PoolConfig    `yaml:"pool" envPrefix:"POOL_"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxEntries:         100,
			DefaultTTL:         5 * time.Minute,
			CleanupInterval:    time.Minute,
			EnablePersistence:  true,
			StoragePrefix:      "cache_",
			SchemaVersion:      "1.0.0",
			PreloadConcurrency: 8,
		},
		Mirror: MirrorConfig{
			Kind:       MirrorSQLite,
			SQLitePath: "storecache.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Pool: PoolConfig{
			MinConnections: 1,
			MaxConnections: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr:      ":9464",
			Namespace: "storecache",
		},
		Tracing: TracingConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "storecache",
			SampleRate:  1.0,
		},
	}
}

// LoadFromFile loads configuration from a YAML file. JSON files parse too,
// since JSON is a YAML subset. Missing keys keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv applies STORECACHE_* environment variable overrides to cfg.
// Unset variables leave the existing values untouched.
func LoadFromEnv(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// Load reads path (when non-empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.default_ttl must be positive"))
	}
	if c.Cache.CleanupInterval < 0 {
		errs = append(errs, errors.New("cache.cleanup_interval must not be negative"))
	}
	if strings.TrimSpace(c.Cache.SchemaVersion) == "" {
		errs = append(errs, errors.New("cache.schema_version is required"))
	}
	switch c.Mirror.Kind {
	case "", MirrorNone, MirrorMemory:
	case MirrorSQLite:
		if strings.TrimSpace(c.Mirror.SQLitePath) == "" {
			errs = append(errs, errors.New("mirror.sqlite_path is required for the sqlite mirror"))
		}
	case MirrorRedis:
		if strings.TrimSpace(c.Mirror.Redis.Addr) == "" {
			errs = append(errs, errors.New("mirror.redis.addr is required for the redis mirror"))
		}
	case MirrorS3:
		if c.Mirror.S3.Bucket == "" || c.Mirror.S3.Region == "" {
			errs = append(errs, errors.New("mirror.s3.bucket and mirror.s3.region are required for the s3 mirror"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mirror kind %q", c.Mirror.Kind))
	}
	if c.Pool.MinConnections < 0 {
		errs = append(errs, errors.New("pool.min_connections must not be negative"))
	}
	if c.Pool.MaxConnections <= 0 {
		errs = append(errs, errors.New("pool.max_connections must be positive"))
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		errs = append(errs, errors.New("pool.min_connections must not exceed pool.max_connections"))
	}
	return errors.Join(errs...)
}
