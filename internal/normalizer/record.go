package normalizer

import (
	"time"

	"ybenali/salespipeline/internal/scraper"
	apperr "ybenali/salespipeline/pkg/errors"
)

// NormalizedProduct is a RawProduct with every raw text field replaced
// by its typed value. Pointer fields are nil when the raw input was
// absent or unparsable. Immutable once created.
type NormalizedProduct struct {
	Website         string     `json:"website"`
	SKU             string     `json:"sku,omitempty"`
	Name            string     `json:"name,omitempty"`
	URL             string     `json:"url"`
	CurrentPrice    *float64   `json:"current_price,omitempty"`
	OldPrice        *float64   `json:"old_price,omitempty"`
	DiscountPercent *float64   `json:"discount_percent,omitempty"`
	Rating          *float64   `json:"rating,omitempty"`
	ReviewCount     *int       `json:"review_count,omitempty"`
	IsOfficialStore bool       `json:"is_official_store"`
	ImageURL        string     `json:"image_url,omitempty"`
	Brand           string     `json:"brand,omitempty"`
	ScrapedAt       time.Time  `json:"scraped_at"`
}

// Record normalizes exactly one RawProduct. It fails only when the
// record-identifying fields are missing; every optional field degrades
// to absent on malformed input.
func Record(raw scraper.RawProduct) (NormalizedProduct, error) {
	if !raw.HasKey() {
		return NormalizedProduct{}, apperr.NewValidation(raw.Website, "record without website or detail url")
	}

	// A record without a readable capture time cannot be ordered against
	// later loads of the same key
	scrapedAt, ok := Timestamp(raw.ScrapedAt)
	if !ok {
		return NormalizedProduct{}, apperr.NewValidation(raw.Website, "record without capture timestamp")
	}

	p := NormalizedProduct{
		Website:         raw.Website,
		SKU:             raw.SKU,
		Name:            raw.Name,
		URL:             raw.URL,
		IsOfficialStore: Flag(raw.OfficialStore),
		ImageURL:        raw.ImageURL,
		Brand:           raw.Brand,
		ScrapedAt:       scrapedAt,
	}

	if v, ok := Price(raw.CurrentPrice); ok {
		p.CurrentPrice = &v
	}
	if v, ok := Price(raw.OldPrice); ok {
		p.OldPrice = &v
	}
	if v, ok := Percent(raw.Discount); ok {
		p.DiscountPercent = &v
	}
	if v, ok := Rating(raw.Rating); ok {
		p.Rating = &v
	}
	if v, ok := Count(raw.ReviewCount); ok {
		p.ReviewCount = &v
	}

	return p, nil
}
