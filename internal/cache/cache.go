// Package cache implements the storefront's in-process cache: a TTL and
// schema-version aware entry store with hit-weighted eviction, written
// through to an optional durable mirror, with pattern invalidation and
// cache-aside helpers on top.
//
// Payloads are stored as compact JSON in both tiers so an entry served from
// memory and one hydrated from the mirror are byte-identical. Use the generic
// helpers (Get, Set, GetOrSet, Refresh) for typed access.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/mirror"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrClosed is returned by writes on a closed cache.
	ErrClosed = errors.New("cache: closed")

	// ErrInvalidPayload is returned when data is not valid JSON.
	ErrInvalidPayload = errors.New("cache: payload is not valid JSON")
)

// Defaults applied by New to zero-valued options.
const (
	DefaultMaxEntries         = 100
	DefaultTTL                = 5 * time.Minute
	DefaultCleanupInterval    = time.Minute
	DefaultStoragePrefix      = "cache_"
	DefaultSchemaVersion      = "1.0.0"
	DefaultPreloadConcurrency = 8
)

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the number of entries held in memory.
	MaxEntries int

	// DefaultTTL applies when a write passes ttl <= 0.
	DefaultTTL time.Duration

	// CleanupInterval is the sweep cadence. Negative disables the sweep.
	CleanupInterval time.Duration

	// StoragePrefix namespaces mirror records: <prefix><key>.
	StoragePrefix string

	// SchemaVersion tags every entry; entries with another tag are stale.
	SchemaVersion string

	// Mirror is the durable tier. Nil disables persistence.
	// The cache takes ownership and closes it on Close.
	Mirror mirror.Mirror

	// Coalesce makes concurrent misses on one key share a single fetch.
	// Off by default: every caller that misses runs its own fetch and the
	// last write wins.
	Coalesce bool

	// PreloadConcurrency bounds parallel fetches in Preload.
	PreloadConcurrency int

	// Logger receives cache diagnostics. Defaults to the operational logger.
	Logger *slog.Logger

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultTTL
	}
	if o.CleanupInterval == 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.StoragePrefix == "" {
		o.StoragePrefix = DefaultStoragePrefix
	}
	if o.SchemaVersion == "" {
		o.SchemaVersion = DefaultSchemaVersion
	}
	if o.PreloadConcurrency <= 0 {
		o.PreloadConcurrency = DefaultPreloadConcurrency
	}
	if o.Logger == nil {
		o.Logger = logging.Component("cache")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Cache is a two-tier cache instance. All methods are safe for concurrent
// use. Construct one per application with New and release it with Close.
type Cache struct {
	opts Options
	log  *slog.Logger

	// writeMu orders mutating operations together with their mirror I/O,
	// so a mirror record is never rewritten after its key was deleted.
	// Lock order: writeMu before mu.
	writeMu sync.Mutex
	mu      sync.Mutex
	store   *entryStore
	closed  bool
	// gen counts mutations made under writeMu. A mirror read done without
	// writeMu is only applied if gen has not moved since it started.
	gen uint64

	group singleflight.Group

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates a cache, hydrates it from the mirror when one is configured,
// and starts the background sweep.
func New(ctx context.Context, opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	c := &Cache{
		opts:  opts,
		log:   opts.Logger,
		store: newEntryStore(opts.MaxEntries),
	}

	if c.opts.Mirror != nil {
		c.hydrate(ctx)
	}

	if opts.CleanupInterval > 0 {
		sweepCtx, cancel := context.WithCancel(context.Background())
		c.sweepCancel = cancel
		c.sweepDone = make(chan struct{})
		go c.sweepLoop(sweepCtx, opts.CleanupInterval)
	}
	return c, nil
}

// Close stops the sweep, drops all in-memory entries and closes the mirror.
// Mirror records are kept so the next instance can hydrate from them.
// Close is idempotent.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		if c.sweepCancel != nil {
			c.sweepCancel()
			<-c.sweepDone
		}

		c.writeMu.Lock()
		c.mu.Lock()
		c.closed = true
		c.store.clear()
		c.mu.Unlock()
		c.writeMu.Unlock()

		if c.opts.Mirror != nil {
			c.closeErr = c.opts.Mirror.Close()
		}
	})
	return c.closeErr
}

// SchemaVersion returns the version tag entries must carry to be valid.
func (c *Cache) SchemaVersion() string {
	return c.opts.SchemaVersion
}

func (c *Cache) now() time.Time {
	return c.opts.Clock()
}

func (c *Cache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.opts.DefaultTTL
	}
	return ttl
}
