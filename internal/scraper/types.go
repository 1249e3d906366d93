package scraper

import "context"

// Category is a navigable catalog section discovered from site navigation.
// Categories seed product-list traversal and are not persisted.
type Category struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Parent string `json:"parent,omitempty"`
}

// RawProduct is one scraped listing record before normalization.
// All extracted fields are kept as captured text; typing happens in the
// normalizer. Website and URL jointly form the natural key downstream.
type RawProduct struct {
	Website       string    `json:"website"`
	SKU           string    `json:"sku,omitempty"`
	Name          string    `json:"name,omitempty"`
	URL           string    `json:"url"`
	CurrentPrice  string    `json:"current_price,omitempty"`
	OldPrice      string    `json:"old_price,omitempty"`
	Discount      string    `json:"discount,omitempty"`
	Rating        string    `json:"rating,omitempty"`
	ReviewCount   string    `json:"review_count,omitempty"`
	OfficialStore string    `json:"official_store,omitempty"`
	ImageURL      string    `json:"image_url,omitempty"`
	Brand         string    `json:"brand,omitempty"`
	ScrapedAt     string    `json:"scraped_at"`
}

// HasKey reports whether the record carries the fields that identify it.
// Records without them are dropped before normalization.
func (p *RawProduct) HasKey() bool {
	return p.Website != "" && p.URL != ""
}

// Fetcher is the page retrieval capability injected into scrapers.
// The production implementation is httpclient.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Scraper is the per-site extraction capability
type Scraper interface {
	// Site returns the website identifier stamped on every record
	Site() string

	// DiscoverCategories parses the site navigation into categories,
	// deduplicated by canonical URL
	DiscoverCategories(ctx context.Context) ([]Category, error)

	// ScrapeProductList walks category pages 1..maxPages, stopping early
	// when a page yields zero items
	ScrapeProductList(ctx context.Context, categoryURL string, maxPages int) ([]RawProduct, error)
}

// Selectors contains the CSS selectors and attributes that drive
// extraction for one site
type Selectors struct {
	CategoryLink string

	ProductList   string
	Name          string
	CurrentPrice  string
	OldPrice      string
	Discount      string
	Rating        string
	ReviewCount   string
	Link          string
	Image         string
	OfficialBadge string
	NextPage      string

	// Attributes read off the product link element
	SKUAttr   string
	BrandAttr string
}

// SiteConfig configures a SiteScraper
type SiteConfig struct {
	Site      string
	BaseURL   string
	PageParam string
	Selectors Selectors
}
