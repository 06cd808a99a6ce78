package backend

import "time"

// Product is a catalog listing as served to the storefront.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	ArtisanID   string    `json:"artisan_id"`
	Stock       int       `json:"stock"`
	Featured    bool      `json:"featured"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Category groups products for navigation.
type Category struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	ProductCount int    `json:"product_count"`
}

// Artisan is a seller profile.
type Artisan struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// TTL tiers. Semi-static data lives longer than stock-sensitive listings.
const (
	CategoriesTTL = time.Hour
	FeaturedTTL   = 15 * time.Minute
	ArtisanTTL    = 30 * time.Minute
	ProductTTL    = 5 * time.Minute
)
