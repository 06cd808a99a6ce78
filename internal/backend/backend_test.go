package backend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/storecache/internal/cache"
	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/metrics"
	"github.com/oriys/storecache/internal/pool"
)

// fakeDB answers queries by matching a fragment of the SQL text and the
// first argument.
type fakeDB struct {
	mu      sync.Mutex
	rows    map[string]string // "<fragment>|<arg>" -> JSON
	queries int
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string]string)}
}

func (db *fakeDB) set(fragment, arg, payload string) {
	db.mu.Lock()
	db.rows[fragment+"|"+arg] = payload
	db.mu.Unlock()
}

func (db *fakeDB) count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.queries
}

type fakeConn struct{ db *fakeDB }

func (c fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.queries++
	arg := ""
	if len(args) > 0 {
		arg = args[0].(string)
	}
	for k, v := range c.db.rows {
		frag, a, _ := strings.Cut(k, "|")
		if strings.Contains(sql, frag) && a == arg {
			if v == "NULL" {
				return fakeRow{}
			}
			return fakeRow{data: []byte(v)}
		}
	}
	return fakeRow{err: pgx.ErrNoRows}
}

type fakeRow struct {
	data []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.data
	return nil
}

func newTestQuerier(t *testing.T, db *fakeDB) (*Querier[fakeConn], *metrics.Metrics, *pool.Pool[fakeConn]) {
	t.Helper()
	p, err := pool.New(context.Background(), pool.Config{MinConnections: 1, MaxConnections: 2},
		func(context.Context) (fakeConn, error) { return fakeConn{db: db}, nil },
		pool.WithLogger[fakeConn](logging.Discard()))
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	t.Cleanup(p.Close)
	m := metrics.New()
	return NewQuerier(p, WithMetrics[fakeConn](m), WithLogger[fakeConn](logging.Discard())), m, p
}

func newTestCatalog(t *testing.T, db *fakeDB) *Catalog[fakeConn] {
	t.Helper()
	q, _, _ := newTestQuerier(t, db)
	c, err := cache.New(context.Background(), cache.Options{CleanupInterval: -1, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("cache.New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return NewCatalog(c, q)
}

func TestQueryJSON(t *testing.T) {
	db := newFakeDB()
	db.set("FROM products p WHERE p.id", "p1", `{"id":"p1"}`)
	q, m, p := newTestQuerier(t, db)

	raw, err := q.QueryJSON(context.Background(), "product", sqlProduct, "p1")
	if err != nil || string(raw) != `{"id":"p1"}` {
		t.Fatalf("unexpected result %s, %v", raw, err)
	}
	if m.TotalFetches.Load() != 1 || m.FailedFetches.Load() != 0 {
		t.Fatalf("fetch not recorded")
	}
	if st := p.Stats(); st.Active != 0 {
		t.Fatalf("connection not released: %+v", st)
	}
}

func TestQueryJSON_NotFound(t *testing.T) {
	q, m, _ := newTestQuerier(t, newFakeDB())

	_, err := q.QueryJSON(context.Background(), "product", sqlProduct, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if m.FailedFetches.Load() != 1 {
		t.Fatal("failed fetch not recorded")
	}
}

func TestQueryJSON_NullColumn(t *testing.T) {
	db := newFakeDB()
	db.set("FROM artisans", "a1", "NULL")
	q, _, _ := newTestQuerier(t, db)

	raw, err := q.QueryJSON(context.Background(), "artisan", sqlArtisan, "a1")
	if err != nil || string(raw) != "null" {
		t.Fatalf("expected JSON null, got %s, %v", raw, err)
	}
}

func TestCatalog_ProductCached(t *testing.T) {
	db := newFakeDB()
	db.set("FROM products p WHERE p.id", "p1", `{"id":"p1","name":"Bowl","price_cents":1800,"category":"ceramics","artisan_id":"a1"}`)
	cat := newTestCatalog(t, db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := cat.Product(ctx, "p1")
		if err != nil || p.Name != "Bowl" || p.PriceCents != 1800 {
			t.Fatalf("unexpected product %+v, %v", p, err)
		}
	}
	if db.count() != 1 {
		t.Fatalf("expected one backend query, got %d", db.count())
	}
	if _, err := cat.Product(ctx, "bad id"); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestCatalog_NotFoundIsNotCached(t *testing.T) {
	db := newFakeDB()
	cat := newTestCatalog(t, db)
	ctx := context.Background()

	if _, err := cat.Artisan(ctx, "a9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	db.set("FROM artisans", "a9", `{"id":"a9","name":"Mira"}`)
	a, err := cat.Artisan(ctx, "a9")
	if err != nil || a.Name != "Mira" {
		t.Fatalf("expected fresh fetch after failure, got %+v, %v", a, err)
	}
}

func TestCatalog_RefreshProductDropsLists(t *testing.T) {
	db := newFakeDB()
	db.set("FROM products p WHERE p.id", "p1", `{"id":"p1","name":"Bowl","category":"ceramics","artisan_id":"a1"}`)
	db.set("WHERE p.category", "ceramics", `[{"id":"p1","name":"Bowl"}]`)
	db.set("WHERE p.featured", "", `[]`)
	cat := newTestCatalog(t, db)
	ctx := context.Background()

	if _, err := cat.CategoryProducts(ctx, "ceramics"); err != nil {
		t.Fatalf("CategoryProducts: %v", err)
	}
	if _, err := cat.Featured(ctx); err != nil {
		t.Fatalf("Featured: %v", err)
	}
	cat.Product(ctx, "p1")

	db.set("FROM products p WHERE p.id", "p1", `{"id":"p1","name":"Large bowl","category":"ceramics","artisan_id":"a1"}`)
	p, err := cat.RefreshProduct(ctx, "p1")
	if err != nil || p.Name != "Large bowl" {
		t.Fatalf("RefreshProduct: %+v, %v", p, err)
	}
	for _, k := range []string{CategoryProductsKey("ceramics"), FeaturedKey()} {
		if cat.cache.Has(k) {
			t.Fatalf("%s should be invalidated", k)
		}
	}
	if got, _ := cat.Product(ctx, "p1"); got.Name != "Large bowl" {
		t.Fatalf("refreshed product not cached: %+v", got)
	}
}

func TestCatalog_Invalidation(t *testing.T) {
	cat := newTestCatalog(t, newFakeDB())
	ctx := context.Background()
	c := cat.cache
	for _, k := range []string{
		ProductKey("1"), ProductKey("2"), FeaturedKey(), CategoriesKey(),
		ArtisanKey("1"), ArtisanKey("12"), ArtisanProductsKey("1"),
	} {
		if err := c.Set(ctx, k, []byte(`{}`), time.Minute); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	n, err := cat.InvalidateArtisan(ctx, "1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 artisan keys removed, got %d, %v", n, err)
	}
	if !c.Has(ArtisanKey("12")) {
		t.Fatal("artisan 12 must survive invalidation of artisan 1")
	}

	n, err = cat.InvalidateCatalog(ctx)
	if err != nil || n != 4 {
		t.Fatalf("expected 3 product keys plus categories, got %d, %v", n, err)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != ArtisanKey("12") {
		t.Fatalf("unexpected survivors %v", keys)
	}
}

func TestCatalog_Warm(t *testing.T) {
	db := newFakeDB()
	db.set("FROM categories", "", `[{"slug":"ceramics","name":"Ceramics","product_count":1}]`)
	db.set("WHERE p.featured", "", `[]`)
	db.set("FROM products p WHERE p.id", "p1", `{"id":"p1"}`)
	cat := newTestCatalog(t, db)
	ctx := context.Background()

	report := cat.Warm(ctx, "p1", "missing", "bad id")
	if report != (cache.PreloadReport{Loaded: 3, Failed: 1}) {
		t.Fatalf("unexpected report %+v", report)
	}
	cats, err := cat.Categories(ctx)
	if err != nil || len(cats) != 1 || cats[0].Slug != "ceramics" {
		t.Fatalf("unexpected categories %+v, %v", cats, err)
	}
	if db.count() != 4 {
		t.Fatalf("categories should be served from cache, queries=%d", db.count())
	}
}
