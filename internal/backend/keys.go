package backend

import (
	"regexp"
	"strings"
)

// Cache key layout. Product-derived keys share the products_ prefix so a
// single pattern drops every listing after a bulk catalog change.
const (
	keyCategories = "categories"
	keyFeatured   = "products_featured"
)

// CategoriesKey caches the category list.
func CategoriesKey() string { return keyCategories }

// FeaturedKey caches the featured product list.
func FeaturedKey() string { return keyFeatured }

// ProductKey caches one product.
func ProductKey(id string) string { return "products_" + id }

// CategoryProductsKey caches the product list of one category.
func CategoryProductsKey(slug string) string { return "products_category_" + slug }

// ArtisanKey caches one artisan profile.
func ArtisanKey(id string) string { return "artisan_" + id }

// ArtisanProductsKey caches the products listed by one artisan.
func ArtisanProductsKey(id string) string { return "products_artisan_" + id }

// AllProductsPattern matches every product-derived key.
func AllProductsPattern() string { return "^products_" }

// ArtisanPattern matches every key derived from one artisan.
func ArtisanPattern(id string) string {
	q := regexp.QuoteMeta(id)
	return "^(artisan_" + q + "|products_artisan_" + q + ")$"
}

// validID rejects identifiers that would make keys ambiguous.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, " \t\n")
}
