package scraper

import (
	"ybenali/salespipeline/config"
)

// CreateScrapers creates all configured site scrapers. Adding a site is a
// matter of adding a SiteConfig here and a URL to the configuration.
func CreateScrapers(cfg *config.Config, fetcher Fetcher) []Scraper {
	configurations := []SiteConfig{
		{
			// Jumia listing markup: product cards are article.prd, the
			// detail link carries the SKU and brand as data attributes,
			// the next-page link is labelled "suivante" (fr).
			Site:      "jumia",
			BaseURL:   cfg.JumiaURL,
			PageParam: "page",
			Selectors: Selectors{
				CategoryLink:  "a[role='menuitem']",
				ProductList:   "article.prd",
				Name:          "h3.name",
				CurrentPrice:  "div.prc",
				OldPrice:      "div.old",
				Discount:      "div.bdg._dsct",
				Rating:        "div.stars._s",
				ReviewCount:   "div.rev",
				Link:          "a.core",
				Image:         "img.img",
				OfficialBadge: "div.bdg._mall",
				NextPage:      `a.pg[aria-label*="suivante"]`,
				SKUAttr:       "data-sku",
				BrandAttr:     "data-ga4-item_brand",
			},
		},
	}

	scrapers := make([]Scraper, 0, len(configurations))
	for _, sc := range configurations {
		scrapers = append(scrapers, NewSiteScraper(sc, fetcher))
	}
	return scrapers
}

// ScraperFor returns the scraper for a site name, or nil when unknown
func ScraperFor(scrapers []Scraper, site string) Scraper {
	for _, s := range scrapers {
		if s.Site() == site {
			return s
		}
	}
	return nil
}
