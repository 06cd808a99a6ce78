package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oriys/storecache/internal/cache"
)

const (
	sqlCategories = `SELECT coalesce(json_agg(json_build_object(
		'slug', c.slug, 'name', c.name, 'product_count', (SELECT count(*) FROM products p WHERE p.category = c.slug)
	) ORDER BY c.name), '[]'::json) FROM categories c`

	sqlFeatured = `SELECT coalesce(json_agg(row_to_json(p) ORDER BY p.updated_at DESC), '[]'::json)
		FROM products p WHERE p.featured`

	sqlProduct = `SELECT row_to_json(p) FROM products p WHERE p.id = $1`

	sqlCategoryProducts = `SELECT coalesce(json_agg(row_to_json(p) ORDER BY p.name), '[]'::json)
		FROM products p WHERE p.category = $1`

	sqlArtisan = `SELECT row_to_json(a) FROM artisans a WHERE a.id = $1`

	sqlArtisanProducts = `SELECT coalesce(json_agg(row_to_json(p) ORDER BY p.name), '[]'::json)
		FROM products p WHERE p.artisan_id = $1`
)

// Catalog serves storefront reads through the cache, falling back to the
// pooled backend on a miss.
type Catalog[C Conn] struct {
	cache   *cache.Cache
	querier *Querier[C]
}

// NewCatalog binds a cache to a querier.
func NewCatalog[C Conn](c *cache.Cache, q *Querier[C]) *Catalog[C] {
	return &Catalog[C]{cache: c, querier: q}
}

// Categories returns every category.
func (c *Catalog[C]) Categories(ctx context.Context) ([]Category, error) {
	return load[[]Category](ctx, c, CategoriesKey(), c.querier.Fetch("categories", sqlCategories), CategoriesTTL)
}

// Featured returns the featured products, newest first.
func (c *Catalog[C]) Featured(ctx context.Context) ([]Product, error) {
	return load[[]Product](ctx, c, FeaturedKey(), c.querier.Fetch("featured", sqlFeatured), FeaturedTTL)
}

// Product returns one product.
func (c *Catalog[C]) Product(ctx context.Context, id string) (Product, error) {
	if !validID(id) {
		return Product{}, fmt.Errorf("invalid product id %q", id)
	}
	return load[Product](ctx, c, ProductKey(id), c.querier.Fetch("product", sqlProduct, id), ProductTTL)
}

// CategoryProducts returns the products of one category.
func (c *Catalog[C]) CategoryProducts(ctx context.Context, slug string) ([]Product, error) {
	if !validID(slug) {
		return nil, fmt.Errorf("invalid category %q", slug)
	}
	return load[[]Product](ctx, c, CategoryProductsKey(slug), c.querier.Fetch("category_products", sqlCategoryProducts, slug), ProductTTL)
}

// Artisan returns one artisan profile.
func (c *Catalog[C]) Artisan(ctx context.Context, id string) (Artisan, error) {
	if !validID(id) {
		return Artisan{}, fmt.Errorf("invalid artisan id %q", id)
	}
	return load[Artisan](ctx, c, ArtisanKey(id), c.querier.Fetch("artisan", sqlArtisan, id), ArtisanTTL)
}

// ArtisanProducts returns the products listed by one artisan.
func (c *Catalog[C]) ArtisanProducts(ctx context.Context, id string) ([]Product, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid artisan id %q", id)
	}
	return load[[]Product](ctx, c, ArtisanProductsKey(id), c.querier.Fetch("artisan_products", sqlArtisanProducts, id), ProductTTL)
}

// RefreshProduct re-reads one product from the backend after an edit and
// drops the lists that may embed it.
func (c *Catalog[C]) RefreshProduct(ctx context.Context, id string) (Product, error) {
	if !validID(id) {
		return Product{}, fmt.Errorf("invalid product id %q", id)
	}
	raw, err := c.cache.Refresh(ctx, ProductKey(id), c.querier.Fetch("product", sqlProduct, id), ProductTTL)
	if err != nil {
		return Product{}, err
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return Product{}, fmt.Errorf("decode %s: %w", ProductKey(id), err)
	}
	c.cache.Delete(ctx, FeaturedKey())
	c.cache.Delete(ctx, CategoryProductsKey(p.Category))
	c.cache.Delete(ctx, ArtisanProductsKey(p.ArtisanID))
	c.cache.Delete(ctx, CategoriesKey())
	return p, nil
}

// InvalidateCatalog drops every product-derived key and the category list.
func (c *Catalog[C]) InvalidateCatalog(ctx context.Context) (int, error) {
	n, err := c.cache.DeletePattern(ctx, AllProductsPattern())
	if err != nil {
		return n, err
	}
	if c.cache.Delete(ctx, CategoriesKey()) {
		n++
	}
	return n, nil
}

// InvalidateArtisan drops an artisan's profile and product list.
func (c *Catalog[C]) InvalidateArtisan(ctx context.Context, id string) (int, error) {
	return c.cache.DeletePattern(ctx, ArtisanPattern(id))
}

// WarmItems lists the storefront landing data for Preload.
func (c *Catalog[C]) WarmItems(productIDs ...string) []cache.PreloadItem {
	items := []cache.PreloadItem{
		{Key: CategoriesKey(), Fetch: c.querier.Fetch("categories", sqlCategories), TTL: CategoriesTTL},
		{Key: FeaturedKey(), Fetch: c.querier.Fetch("featured", sqlFeatured), TTL: FeaturedTTL},
	}
	for _, id := range productIDs {
		if !validID(id) {
			continue
		}
		items = append(items, cache.PreloadItem{
			Key:   ProductKey(id),
			Fetch: c.querier.Fetch("product", sqlProduct, id),
			TTL:   ProductTTL,
		})
	}
	return items
}

// Warm preloads the landing data and the given products.
func (c *Catalog[C]) Warm(ctx context.Context, productIDs ...string) cache.PreloadReport {
	return c.cache.Preload(ctx, c.WarmItems(productIDs...))
}

func load[T any, C Conn](ctx context.Context, c *Catalog[C], key string, fetch cache.FetchFunc, ttl time.Duration) (T, error) {
	var v T
	raw, err := c.cache.GetOrSet(ctx, key, fetch, ttl)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}
