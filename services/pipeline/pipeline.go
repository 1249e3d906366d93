package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ybenali/salespipeline/config"
	"ybenali/salespipeline/internal/normalizer"
	"ybenali/salespipeline/internal/observability"
	"ybenali/salespipeline/internal/scraper"
	"ybenali/salespipeline/internal/warehouse"
	"ybenali/salespipeline/logger"
	apperr "ybenali/salespipeline/pkg/errors"
	"ybenali/salespipeline/services/publisher"
)

// Loader is the warehouse capability the pipeline needs. The production
// implementation is warehouse.Loader.
type Loader interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, products []normalizer.NormalizedProduct) (warehouse.LoadResult, error)
}

// RunSummary accounts for one pipeline run over a single site
type RunSummary struct {
	Site        string               `json:"site"`
	Categories  int                  `json:"categories"`
	RawProducts int                  `json:"raw_products"`
	Normalized  int                  `json:"normalized"`
	Dropped     int                  `json:"dropped"`
	Load        warehouse.LoadResult `json:"load"`
	Published   int                  `json:"published"`
	Duration    time.Duration        `json:"duration"`
	Errors      []string             `json:"errors,omitempty"`
}

// Pipeline coordinates the extract, normalize and load stages for the
// configured sites
type Pipeline struct {
	cfg      *config.Config
	scrapers []scraper.Scraper
	loader   Loader
	pub      publisher.Publisher
	log      *logger.Logger
}

// New creates a Pipeline. loader and pub may be nil when a run only
// covers earlier stages.
func New(cfg *config.Config, scrapers []scraper.Scraper, loader Loader, pub publisher.Publisher) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		scrapers: scrapers,
		loader:   loader,
		pub:      pub,
		log:      logger.ForPipeline(),
	}
}

// Run executes the full pipeline for one site: extract, normalize, load
// and optional fan-out. The run budget, when configured, is advisory:
// once it passes, no new pages or categories are started, in-flight
// work finishes, and everything collected still flows through
// normalize and load.
func (p *Pipeline) Run(ctx context.Context, site string) (RunSummary, error) {
	if p.cfg.RunBudget > 0 {
		ctx = scraper.WithBudget(ctx, time.Now().Add(p.cfg.RunBudget))
	}

	start := time.Now()
	summary := RunSummary{Site: site}

	raw, err := p.Extract(ctx, site, &summary)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	normalized, err := p.Normalize(ctx, site, raw, &summary)
	if err != nil {
		summary.Duration = time.Since(start)
		return summary, err
	}

	if p.loader != nil {
		if err := p.Load(ctx, site, normalized, &summary); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
	}

	if p.pub != nil {
		p.publish(site, normalized, &summary)
	}

	summary.Duration = time.Since(start)
	p.log.Info().
		Str("site", site).
		Int("categories", summary.Categories).
		Int("raw", summary.RawProducts).
		Int("normalized", summary.Normalized).
		Int("dropped", summary.Dropped).
		Int("inserted", summary.Load.Inserted).
		Int("updated", summary.Load.Updated).
		Int("load_failed", len(summary.Load.Failed)).
		Dur("duration", summary.Duration).
		Msg("Pipeline run finished")
	return summary, nil
}

// Extract discovers categories for the site and scrapes their product
// listings with a bounded worker pool. The raw records are written to
// the day's raw artifact, including partial results on cancellation or
// budget exhaustion, so completed work is never lost. A category that
// fails is logged and skipped; extraction fails only when category
// discovery fails, when every category fails, or when the artifact
// cannot be written.
func (p *Pipeline) Extract(ctx context.Context, site string, summary *RunSummary) ([]scraper.RawProduct, error) {
	s, err := p.scraperFor(site)
	if err != nil {
		return nil, err
	}

	stageStart := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues(site, "extract").Observe(time.Since(stageStart).Seconds())
	}()

	categories, err := s.DiscoverCategories(ctx)
	if err != nil {
		return nil, err
	}
	summary.Categories = len(categories)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		raw      []scraper.RawProduct
		failures int
	)
	sem := make(chan struct{}, p.cfg.CategoryWorkers)

	for _, category := range categories {
		// Acquire the worker slot first so the budget check happens at
		// the moment this category would actually start
		sem <- struct{}{}
		if ctx.Err() != nil {
			<-sem
			break
		}
		if scraper.BudgetExpired(ctx) {
			<-sem
			p.log.Info().Str("site", site).Str("category", category.Name).Msg("Run budget exhausted, not starting next category")
			break
		}
		wg.Add(1)
		go func(category scraper.Category) {
			defer wg.Done()
			defer func() { <-sem }()

			products, err := s.ScrapeProductList(ctx, category.URL, p.cfg.MaxPagesPerCategory)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				summary.Errors = append(summary.Errors, fmt.Sprintf("category %s: %v", category.Name, err))
				p.log.Warn().
					Str("site", site).
					Str("category", category.Name).
					Err(err).
					Msg("Category scrape failed")
				return
			}
			raw = append(raw, products...)
		}(category)
	}
	wg.Wait()

	summary.RawProducts = len(raw)
	observability.ProductsExtractedTotal.WithLabelValues(site).Add(float64(len(raw)))

	// The artifact is written before any error surfaces so records from
	// categories that completed are durable across interrupted runs
	if err := WriteJSONL(RawArtifactPath(p.cfg.DataDir, site, time.Now()), raw); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		p.log.Warn().Str("site", site).Int("products", len(raw)).Msg("Extraction cancelled, partial artifact written")
		return raw, ctx.Err()
	}
	if len(categories) > 0 && failures == len(categories) {
		return nil, apperr.NewNetwork(site, fmt.Sprintf("all %d categories failed", len(categories)), nil)
	}

	p.log.Info().
		Str("site", site).
		Int("categories", len(categories)).
		Int("products", len(raw)).
		Msg("Extraction finished")
	return raw, nil
}

// Normalize types every raw record and writes the day's processed
// artifact. Records that cannot be identified are dropped and counted;
// they never fail the stage.
func (p *Pipeline) Normalize(ctx context.Context, site string, raw []scraper.RawProduct, summary *RunSummary) ([]normalizer.NormalizedProduct, error) {
	stageStart := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues(site, "normalize").Observe(time.Since(stageStart).Seconds())
	}()

	normalized := make([]normalizer.NormalizedProduct, 0, len(raw))
	for i, record := range raw {
		if i%100 == 0 && ctx.Err() != nil {
			return normalized, ctx.Err()
		}
		product, err := normalizer.Record(record)
		if err != nil {
			summary.Dropped++
			observability.ProductsNormalizedTotal.WithLabelValues(site, "dropped").Inc()
			p.log.Warn().
				Str("site", site).
				Str("url", record.URL).
				Err(err).
				Msg("Dropping record")
			continue
		}
		normalized = append(normalized, product)
		observability.ProductsNormalizedTotal.WithLabelValues(site, "ok").Inc()
	}
	summary.Normalized = len(normalized)

	if err := WriteJSONL(ProcessedArtifactPath(p.cfg.DataDir, site, time.Now()), normalized); err != nil {
		return nil, err
	}
	p.log.Info().
		Str("site", site).
		Int("normalized", len(normalized)).
		Int("dropped", summary.Dropped).
		Msg("Normalization finished")
	return normalized, nil
}

// Load ensures the warehouse schema and upserts the normalized records
func (p *Pipeline) Load(ctx context.Context, site string, products []normalizer.NormalizedProduct, summary *RunSummary) error {
	stageStart := time.Now()
	defer func() {
		observability.StageDuration.WithLabelValues(site, "load").Observe(time.Since(stageStart).Seconds())
	}()

	if err := p.loader.EnsureSchema(ctx); err != nil {
		return err
	}

	result, err := p.loader.Upsert(ctx, products)
	summary.Load = result
	observability.ProductsLoadedTotal.WithLabelValues(site, "inserted").Add(float64(result.Inserted))
	observability.ProductsLoadedTotal.WithLabelValues(site, "updated").Add(float64(result.Updated))
	observability.ProductsLoadedTotal.WithLabelValues(site, "failed").Add(float64(len(result.Failed)))
	if err != nil {
		return err
	}

	p.log.Info().
		Str("site", site).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failed)).
		Msg("Load finished")
	return nil
}

// NormalizeArtifact runs the normalize stage from the day's raw artifact
func (p *Pipeline) NormalizeArtifact(ctx context.Context, site string) (RunSummary, error) {
	summary := RunSummary{Site: site}
	raw, err := ReadJSONL[scraper.RawProduct](RawArtifactPath(p.cfg.DataDir, site, time.Now()))
	if err != nil {
		return summary, err
	}
	summary.RawProducts = len(raw)
	_, err = p.Normalize(ctx, site, raw, &summary)
	return summary, err
}

// LoadArtifact runs the load stage from the day's processed artifact
func (p *Pipeline) LoadArtifact(ctx context.Context, site string) (RunSummary, error) {
	summary := RunSummary{Site: site}
	if p.loader == nil {
		return summary, apperr.NewConfiguration("load stage requested without a warehouse", nil)
	}
	products, err := ReadJSONL[normalizer.NormalizedProduct](ProcessedArtifactPath(p.cfg.DataDir, site, time.Now()))
	if err != nil {
		return summary, err
	}
	summary.Normalized = len(products)
	err = p.Load(ctx, site, products, &summary)
	return summary, err
}

// publish fans normalized products out to the site's stream. Fan-out is
// best effort and never fails the run.
func (p *Pipeline) publish(site string, products []normalizer.NormalizedProduct, summary *RunSummary) {
	for _, product := range products {
		data, err := json.Marshal(product)
		if err != nil {
			p.log.Error().Str("site", site).Err(err).Msg("Failed to marshal product for publishing")
			continue
		}
		if err := p.pub.Publish(site, data); err != nil {
			p.log.Error().Str("site", site).Err(err).Msg("Failed to publish product")
			continue
		}
		summary.Published++
	}

	if err := p.pub.TrimStreams(); err != nil {
		p.log.Error().Err(err).Msg("Failed to trim streams")
	}
}

func (p *Pipeline) scraperFor(site string) (scraper.Scraper, error) {
	for _, s := range p.scrapers {
		if s.Site() == site {
			return s, nil
		}
	}
	return nil, apperr.NewConfiguration(fmt.Sprintf("no scraper configured for site %q", site), nil)
}
