package scraper

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ybenali/salespipeline/helpers"
	"ybenali/salespipeline/internal/observability"
	"ybenali/salespipeline/logger"
	apperr "ybenali/salespipeline/pkg/errors"
)

// SiteScraper is a selector-configuration driven Scraper. New sites are
// added as a SiteConfig in the factory, not as new types.
type SiteScraper struct {
	cfg     SiteConfig
	fetcher Fetcher
	log     *logger.Logger
}

// NewSiteScraper creates a scraper for one site
func NewSiteScraper(cfg SiteConfig, fetcher Fetcher) *SiteScraper {
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	return &SiteScraper{
		cfg:     cfg,
		fetcher: fetcher,
		log:     logger.ForSite(cfg.Site),
	}
}

// Site returns the website identifier
func (s *SiteScraper) Site() string {
	return s.cfg.Site
}

// DiscoverCategories parses the site navigation into categories.
// Individual menu entries that fail to parse are skipped; a zero-category
// result is a reported anomaly, not an error.
func (s *SiteScraper) DiscoverCategories(ctx context.Context) ([]Category, error) {
	body, err := s.fetcher.Fetch(ctx, s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch homepage: %w", err)
	}

	doc, err := s.document(body)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var categories []Category

	doc.Find(s.cfg.Selectors.CategoryLink).Each(func(_ int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		href = strings.TrimSpace(href)
		name := strings.TrimSpace(sel.Text())

		if !exists || href == "" || strings.HasPrefix(href, "#") || len(name) <= 2 {
			return
		}
		if !helpers.SameHost(s.cfg.BaseURL, href) {
			return
		}

		fullURL := helpers.ResolveURL(s.cfg.BaseURL, href)
		if seen[fullURL] {
			return
		}
		seen[fullURL] = true

		categories = append(categories, Category{Name: name, URL: fullURL})
	})

	if len(categories) == 0 {
		s.log.Warn().Str("url", s.cfg.BaseURL).Msg("Category discovery found nothing; navigation markup may have changed")
	} else {
		s.log.Info().Int("count", len(categories)).Msg("Discovered categories")
	}

	return categories, nil
}

// ScrapeProductList walks category pages from page 1
func (s *SiteScraper) ScrapeProductList(ctx context.Context, categoryURL string, maxPages int) ([]RawProduct, error) {
	return s.ScrapeProductListFrom(ctx, categoryURL, 1, maxPages)
}

// ScrapeProductListFrom walks category pages from startPage up to maxPages.
// Pagination stops on the first zero-item page or when the site no longer
// offers a next page. A failed page after the first is logged and ends the
// walk with the items collected so far.
func (s *SiteScraper) ScrapeProductListFrom(ctx context.Context, categoryURL string, startPage, maxPages int) ([]RawProduct, error) {
	var products []RawProduct

	for page := startPage; page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return products, err
		}
		if BudgetExpired(ctx) {
			s.log.Info().Int("page", page).Msg("Run budget exhausted, not starting next page")
			break
		}

		pageURL := s.pageURL(categoryURL, page)
		body, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			observability.PagesFetchedTotal.WithLabelValues(s.cfg.Site, "error").Inc()
			if page == startPage {
				return nil, fmt.Errorf("fetch page %d: %w", page, err)
			}
			s.log.Warn().Int("page", page).Err(err).Msg("Page fetch failed, stopping pagination")
			break
		}
		observability.PagesFetchedTotal.WithLabelValues(s.cfg.Site, "ok").Inc()

		doc, err := s.document(body)
		if err != nil {
			s.log.Warn().Int("page", page).Err(err).Msg("Page parse failed, stopping pagination")
			break
		}

		items := doc.Find(s.cfg.Selectors.ProductList)
		if items.Length() == 0 {
			s.log.Debug().Int("page", page).Msg("No products on page, end of pagination")
			break
		}

		pageProducts := s.processItems(items)
		products = append(products, pageProducts...)

		s.log.Debug().
			Int("page", page).
			Int("items", len(pageProducts)).
			Int("total", len(products)).
			Msg("Scraped listing page")

		if s.cfg.Selectors.NextPage != "" && doc.Find(s.cfg.Selectors.NextPage).Length() == 0 {
			s.log.Debug().Int("page", page).Msg("No next page link, end of pagination")
			break
		}
	}

	return products, nil
}

// processItems extracts products from the selections in parallel.
// Extraction is side-effect free so ordering is not significant.
func (s *SiteScraper) processItems(items *goquery.Selection) []RawProduct {
	productChan := make(chan *RawProduct, items.Length())
	var wg sync.WaitGroup

	items.Each(func(_ int, sel *goquery.Selection) {
		wg.Add(1)
		go func(sel *goquery.Selection) {
			defer wg.Done()
			if p := s.extractProduct(sel); p != nil {
				productChan <- p
			}
		}(sel)
	})

	wg.Wait()
	close(productChan)

	var products []RawProduct
	for p := range productChan {
		products = append(products, *p)
	}
	return products
}

// extractProduct extracts one product card, best-effort per field.
// Returns nil only when the record-identifying detail URL is missing.
func (s *SiteScraper) extractProduct(sel *goquery.Selection) *RawProduct {
	sels := s.cfg.Selectors

	linkSel := sel.Find(sels.Link)
	href, _ := linkSel.Attr("href")
	detailURL := helpers.ResolveURL(s.cfg.BaseURL, strings.TrimSpace(href))

	p := RawProduct{
		Website:      s.cfg.Site,
		URL:          detailURL,
		Name:         text(sel, sels.Name),
		CurrentPrice: text(sel, sels.CurrentPrice),
		OldPrice:     text(sel, sels.OldPrice),
		Discount:     text(sel, sels.Discount),
		Rating:       text(sel, sels.Rating),
		ReviewCount:  text(sel, sels.ReviewCount),
		ScrapedAt:    time.Now().UTC().Format(time.RFC3339Nano),
	}

	if !p.HasKey() {
		s.log.Debug().Msg("Dropping item without detail URL")
		return nil
	}

	if sels.SKUAttr != "" {
		p.SKU, _ = linkSel.Attr(sels.SKUAttr)
	}
	if sels.BrandAttr != "" {
		p.Brand, _ = linkSel.Attr(sels.BrandAttr)
	}

	if sels.Image != "" {
		imgSel := sel.Find(sels.Image)
		if src, exists := imgSel.Attr("data-src"); exists && src != "" {
			p.ImageURL = src
		} else if src, exists := imgSel.Attr("src"); exists {
			p.ImageURL = src
		}
	}

	if sels.OfficialBadge != "" {
		badge := sel.Find(sels.OfficialBadge)
		if badge.Length() > 0 {
			p.OfficialStore = strings.TrimSpace(badge.Text())
			if p.OfficialStore == "" {
				p.OfficialStore = "true"
			}
		}
	}

	return &p
}

// pageURL appends the page query parameter to a category URL
func (s *SiteScraper) pageURL(categoryURL string, page int) string {
	sep := "?"
	if strings.Contains(categoryURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", categoryURL, sep, s.cfg.PageParam, page)
}

// document parses a fetched body into a goquery document
func (s *SiteScraper) document(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.NewParsing(s.cfg.Site, "HTML parse failed", err)
	}
	return doc, nil
}

func text(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	found := sel.Find(selector)
	if found.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(found.First().Text())
}
