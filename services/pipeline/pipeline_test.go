package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ybenali/salespipeline/config"
	"ybenali/salespipeline/internal/normalizer"
	"ybenali/salespipeline/internal/scraper"
	"ybenali/salespipeline/internal/warehouse"
	apperr "ybenali/salespipeline/pkg/errors"
)

type fakeScraper struct {
	site       string
	categories []scraper.Category
	discErr    error
	products   map[string][]scraper.RawProduct
	errs       map[string]error
	delay      time.Duration

	mu     sync.Mutex
	called []string
}

func (f *fakeScraper) Site() string { return f.site }

func (f *fakeScraper) DiscoverCategories(_ context.Context) ([]scraper.Category, error) {
	return f.categories, f.discErr
}

func (f *fakeScraper) ScrapeProductList(ctx context.Context, categoryURL string, _ int) ([]scraper.RawProduct, error) {
	f.mu.Lock()
	f.called = append(f.called, categoryURL)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err, ok := f.errs[categoryURL]; ok {
		return nil, err
	}
	return f.products[categoryURL], nil
}

func (f *fakeScraper) scraped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.called))
	copy(out, f.called)
	return out
}

type fakeLoader struct {
	schemaErr error
	upsertErr error
	received  []normalizer.NormalizedProduct
}

func (f *fakeLoader) EnsureSchema(_ context.Context) error { return f.schemaErr }

func (f *fakeLoader) Upsert(_ context.Context, products []normalizer.NormalizedProduct) (warehouse.LoadResult, error) {
	f.received = append(f.received, products...)
	if f.upsertErr != nil {
		return warehouse.LoadResult{}, f.upsertErr
	}
	return warehouse.LoadResult{Inserted: len(products)}, nil
}

type fakePublisher struct {
	published map[string][][]byte
	trimmed   int
}

func (f *fakePublisher) Publish(site string, message []byte) error {
	if f.published == nil {
		f.published = make(map[string][][]byte)
	}
	f.published[site] = append(f.published[site], message)
	return nil
}

func (f *fakePublisher) TrimStreams() error {
	f.trimmed++
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:             t.TempDir(),
		CategoryWorkers:     2,
		MaxPagesPerCategory: 5,
		BatchSize:           100,
	}
}

func rawProduct(sku, url string) scraper.RawProduct {
	return scraper.RawProduct{
		Website:      "jumia",
		SKU:          sku,
		Name:         "Machine a laver",
		URL:          url,
		CurrentPrice: "1,229.00 Dhs",
		ScrapedAt:    "2026-08-30T09:00:00Z",
	}
}

func TestRunFullPipeline(t *testing.T) {
	cfg := testConfig(t)
	s := &fakeScraper{
		site: "jumia",
		categories: []scraper.Category{
			{Name: "Electromenager", URL: "https://www.jumia.ma/electromenager/"},
			{Name: "Telephones", URL: "https://www.jumia.ma/telephone-tablette/"},
		},
		products: map[string][]scraper.RawProduct{
			"https://www.jumia.ma/electromenager/": {
				rawProduct("SK1", "https://www.jumia.ma/p1.html"),
				rawProduct("SK2", "https://www.jumia.ma/p2.html"),
			},
			"https://www.jumia.ma/telephone-tablette/": {
				rawProduct("SK3", "https://www.jumia.ma/p3.html"),
			},
		},
	}
	loader := &fakeLoader{}
	pub := &fakePublisher{}

	p := New(cfg, []scraper.Scraper{s}, loader, pub)
	summary, err := p.Run(context.Background(), "jumia")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Categories)
	assert.Equal(t, 3, summary.RawProducts)
	assert.Equal(t, 3, summary.Normalized)
	assert.Zero(t, summary.Dropped)
	assert.Equal(t, 3, summary.Load.Inserted)
	assert.Equal(t, 3, summary.Published)
	assert.Equal(t, 1, pub.trimmed)
	assert.Len(t, loader.received, 3)

	// Both stage artifacts landed under the data dir
	raw, err := os.ReadFile(RawArtifactPath(cfg.DataDir, "jumia", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(raw), "\n"))

	processed, err := os.ReadFile(ProcessedArtifactPath(cfg.DataDir, "jumia", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(processed), "\n"))
	assert.Contains(t, string(processed), `"current_price":1229`)
}

func TestRunUnknownSite(t *testing.T) {
	p := New(testConfig(t), nil, nil, nil)
	_, err := p.Run(context.Background(), "nosuchsite")
	require.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeConfiguration, apperr.TypeOf(err))
}

func TestExtractIsolatesCategoryFailures(t *testing.T) {
	cfg := testConfig(t)
	s := &fakeScraper{
		site: "jumia",
		categories: []scraper.Category{
			{Name: "Electromenager", URL: "https://www.jumia.ma/electromenager/"},
			{Name: "Telephones", URL: "https://www.jumia.ma/telephone-tablette/"},
		},
		products: map[string][]scraper.RawProduct{
			"https://www.jumia.ma/electromenager/": {rawProduct("SK1", "https://www.jumia.ma/p1.html")},
		},
		errs: map[string]error{
			"https://www.jumia.ma/telephone-tablette/": errors.New("fetch page 1: boom"),
		},
	}

	p := New(cfg, []scraper.Scraper{s}, nil, nil)
	var summary RunSummary
	raw, err := p.Extract(context.Background(), "jumia", &summary)
	require.NoError(t, err)
	assert.Len(t, raw, 1)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "Telephones")
}

func TestExtractFailsWhenAllCategoriesFail(t *testing.T) {
	cfg := testConfig(t)
	s := &fakeScraper{
		site: "jumia",
		categories: []scraper.Category{
			{Name: "Electromenager", URL: "https://www.jumia.ma/electromenager/"},
		},
		errs: map[string]error{
			"https://www.jumia.ma/electromenager/": errors.New("boom"),
		},
	}

	p := New(cfg, []scraper.Scraper{s}, nil, nil)
	var summary RunSummary
	_, err := p.Extract(context.Background(), "jumia", &summary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 1 categories failed")
}

func TestNormalizeDropsUnidentifiedRecords(t *testing.T) {
	cfg := testConfig(t)
	p := New(cfg, nil, nil, nil)

	missingURL := rawProduct("SK9", "")
	var summary RunSummary
	normalized, err := p.Normalize(context.Background(), "jumia", []scraper.RawProduct{
		rawProduct("SK1", "https://www.jumia.ma/p1.html"),
		missingURL,
	}, &summary)
	require.NoError(t, err)
	assert.Len(t, normalized, 1)
	assert.Equal(t, 1, summary.Dropped)
}

func TestRunContinuesWithoutLoaderAndPublisher(t *testing.T) {
	cfg := testConfig(t)
	s := &fakeScraper{
		site:       "jumia",
		categories: []scraper.Category{{Name: "Electromenager", URL: "https://www.jumia.ma/electromenager/"}},
		products: map[string][]scraper.RawProduct{
			"https://www.jumia.ma/electromenager/": {rawProduct("SK1", "https://www.jumia.ma/p1.html")},
		},
	}

	p := New(cfg, []scraper.Scraper{s}, nil, nil)
	summary, err := p.Run(context.Background(), "jumia")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Normalized)
	assert.Zero(t, summary.Load.Inserted)
	assert.Zero(t, summary.Published)
}

func TestRunBudgetKeepsCompletedWork(t *testing.T) {
	cfg := testConfig(t)
	cfg.CategoryWorkers = 1
	cfg.RunBudget = 150 * time.Millisecond
	s := &fakeScraper{
		site:  "jumia",
		delay: 100 * time.Millisecond,
		categories: []scraper.Category{
			{Name: "Electromenager", URL: "https://www.jumia.ma/electromenager/"},
			{Name: "Telephones", URL: "https://www.jumia.ma/telephone-tablette/"},
			{Name: "Informatique", URL: "https://www.jumia.ma/ordinateurs-accessoires-informatique/"},
		},
		products: map[string][]scraper.RawProduct{
			"https://www.jumia.ma/electromenager/":     {rawProduct("SK1", "https://www.jumia.ma/p1.html")},
			"https://www.jumia.ma/telephone-tablette/": {rawProduct("SK2", "https://www.jumia.ma/p2.html")},
			"https://www.jumia.ma/ordinateurs-accessoires-informatique/": {rawProduct("SK3", "https://www.jumia.ma/p3.html")},
		},
	}
	loader := &fakeLoader{}

	// Category 1 finishes inside the budget, category 2 starts before the
	// budget passes and is allowed to finish, category 3 is never started
	p := New(cfg, []scraper.Scraper{s}, loader, nil)
	summary, err := p.Run(context.Background(), "jumia")
	require.NoError(t, err, "a budget overrun is not a failure")

	assert.Equal(t, 2, summary.RawProducts)
	assert.Equal(t, 2, summary.Normalized)
	assert.Equal(t, 2, summary.Load.Inserted)
	assert.NotContains(t, s.scraped(), "https://www.jumia.ma/ordinateurs-accessoires-informatique/")

	// Everything scraped inside the budget reached the raw artifact
	raw, readErr := os.ReadFile(RawArtifactPath(cfg.DataDir, "jumia", time.Now()))
	require.NoError(t, readErr)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))
}

func TestExtractWritesPartialArtifactOnCancellation(t *testing.T) {
	cfg := testConfig(t)
	cfg.CategoryWorkers = 1
	s := &fakeScraper{
		site:  "jumia",
		delay: 100 * time.Millisecond,
		categories: []scraper.Category{
			{Name: "Electromenager", URL: "https://www.jumia.ma/electromenager/"},
			{Name: "Telephones", URL: "https://www.jumia.ma/telephone-tablette/"},
		},
		products: map[string][]scraper.RawProduct{
			"https://www.jumia.ma/electromenager/":     {rawProduct("SK1", "https://www.jumia.ma/p1.html")},
			"https://www.jumia.ma/telephone-tablette/": {rawProduct("SK2", "https://www.jumia.ma/p2.html")},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	p := New(cfg, []scraper.Scraper{s}, nil, nil)
	var summary RunSummary
	raw, err := p.Extract(ctx, "jumia", &summary)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, raw, 1, "category 1 completed before the cancellation")

	// The partial result is durable despite the cancellation
	artifact, readErr := os.ReadFile(RawArtifactPath(cfg.DataDir, "jumia", time.Now()))
	require.NoError(t, readErr)
	assert.Equal(t, 1, strings.Count(string(artifact), "\n"))
}

func TestStageEntryPointsReadArtifacts(t *testing.T) {
	cfg := testConfig(t)
	loader := &fakeLoader{}
	p := New(cfg, nil, loader, nil)

	raw := []scraper.RawProduct{
		rawProduct("SK1", "https://www.jumia.ma/p1.html"),
		rawProduct("SK2", "https://www.jumia.ma/p2.html"),
	}
	require.NoError(t, WriteJSONL(RawArtifactPath(cfg.DataDir, "jumia", time.Now()), raw))

	summary, err := p.NormalizeArtifact(context.Background(), "jumia")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.RawProducts)
	assert.Equal(t, 2, summary.Normalized)

	summary, err = p.LoadArtifact(context.Background(), "jumia")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Load.Inserted)
	assert.Len(t, loader.received, 2)
}

func TestLoadArtifactWithoutWarehouse(t *testing.T) {
	p := New(testConfig(t), nil, nil, nil)
	_, err := p.LoadArtifact(context.Background(), "jumia")
	require.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeConfiguration, apperr.TypeOf(err))
}

func TestReadJSONLSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.jsonl")
	content := `{"website":"jumia","url":"https://www.jumia.ma/p1.html","scraped_at":"2026-08-30T09:00:00Z"}
{not json at all
{"website":"jumia","url":"https://www.jumia.ma/p2.html","scraped_at":"2026-08-30T09:00:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := ReadJSONL[scraper.RawProduct](path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "https://www.jumia.ma/p2.html", records[1].URL)
}

func TestReadJSONLMissingArtifact(t *testing.T) {
	_, err := ReadJSONL[scraper.RawProduct](filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeParsing, apperr.TypeOf(err))
}
