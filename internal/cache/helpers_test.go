package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/mirror"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// newTestCache builds a cache with the sweep disabled and a fake clock.
func newTestCache(t *testing.T, opts Options) (*Cache, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = -1
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	c, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, clock
}

// unclosable shares one in-memory mirror across cache instances in a test.
type unclosable struct {
	mirror.Mirror
}

func (unclosable) Close() error { return nil }

// failingMirror fails every write and keeps reads working.
type failingMirror struct {
	*mirror.Memory
}

var errQuotaExceeded = errors.New("quota exceeded")

func (failingMirror) Put(context.Context, string, []byte) error {
	return errQuotaExceeded
}

func mustSet(t *testing.T, c *Cache, key, data string, ttl time.Duration) {
	t.Helper()
	if err := c.Set(context.Background(), key, []byte(data), ttl); err != nil {
		t.Fatalf("Set(%s) failed: %v", key, err)
	}
}

func mustGet(t *testing.T, c *Cache, key string) string {
	t.Helper()
	data, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatalf("expected hit for %s", key)
	}
	return string(data)
}

func expectMiss(t *testing.T, c *Cache, key string) {
	t.Helper()
	if data, ok := c.Get(context.Background(), key); ok {
		t.Fatalf("expected miss for %s, got %s", key, data)
	}
}

// gatedMirror blocks the first Get of one mirror key until release is
// closed, so a test can act while a read-through is in flight.
type gatedMirror struct {
	*mirror.Memory
	key     string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedMirror(key string) *gatedMirror {
	return &gatedMirror{
		Memory:  mirror.NewMemory(),
		key:     key,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedMirror) Get(ctx context.Context, key string) ([]byte, error) {
	if key == g.key {
		gated := false
		g.once.Do(func() { gated = true })
		if gated {
			close(g.entered)
			<-g.release
		}
	}
	return g.Memory.Get(ctx, key)
}

func (g *gatedMirror) Close() error { return nil }

// putRecord writes a mirror record for key as Set would have.
func putRecord(t *testing.T, m mirror.Mirror, c *Cache, key, data string, ttl time.Duration) {
	t.Helper()
	raw, err := encodeRecord(&Entry{
		Key:       key,
		Data:      []byte(data),
		CreatedAt: truncateMillis(c.now()),
		TTL:       ttl,
		Version:   c.SchemaVersion(),
	})
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	if err := m.Put(context.Background(), c.mirrorKey(key), raw); err != nil {
		t.Fatalf("put record: %v", err)
	}
}
