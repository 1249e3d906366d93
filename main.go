package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ybenali/salespipeline/config"
	"ybenali/salespipeline/internal/httpclient"
	"ybenali/salespipeline/internal/observability"
	"ybenali/salespipeline/internal/scraper"
	"ybenali/salespipeline/internal/warehouse"
	"ybenali/salespipeline/logger"
	apperr "ybenali/salespipeline/pkg/errors"
	"ybenali/salespipeline/services/cache"
	"ybenali/salespipeline/services/pipeline"
	"ybenali/salespipeline/services/publisher"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagSite     string
	flagStage    string
	flagMaxPages int
)

var rootCmd = &cobra.Command{
	Use:   "salespipeline",
	Short: "salespipeline extracts, normalizes and loads e-commerce product listings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&flagSite, "site", "jumia", "site to run the pipeline for")
	rootCmd.Flags().StringVar(&flagStage, "stage", "all", "pipeline stage: extract, normalize, load or all")
	rootCmd.Flags().IntVar(&flagMaxPages, "max-pages", 0, "override MAX_PAGES_PER_CATEGORY")
}

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()

	// Cancel the run on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal: %s", sig.String())
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Fatal("Pipeline run failed: %v", err)
	}
}

func run(ctx context.Context) error {
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if flagMaxPages > 0 {
		cfg.MaxPagesPerCategory = flagMaxPages
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("site", flagSite).
		Str("stage", flagStage).
		Msg("Starting application")

	if cfg.MetricsPort != "" {
		observability.Start(cfg.MetricsPort)
		log.Info().Str("port", cfg.MetricsPort).Msg("Metrics endpoint started")
	}

	// Initialize services
	services, err := initializeServices(ctx, cfg, flagStage)
	if err != nil {
		return err
	}
	defer services.Cleanup()

	// Create scrapers over the shared HTTP client
	client := httpclient.New(httpclient.Options{
		Timeout:        cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		Limiter:        httpclient.NewRateLimiter(cfg.RequestDelay),
		Cache:          services.Cache,
	})
	scrapers := scraper.CreateScrapers(cfg, client)
	if scraper.ScraperFor(scrapers, flagSite) == nil && flagStage != "load" {
		// Surface as an error so deferred cleanup still runs
		return apperr.NewConfiguration(fmt.Sprintf("no scraper configured for site %q", flagSite), nil)
	}

	var loader pipeline.Loader
	if services.Loader != nil {
		loader = services.Loader
	}
	p := pipeline.New(cfg, scrapers, loader, services.Publisher)

	summary, err := runStage(ctx, p, flagStage, flagSite)
	if err != nil {
		return err
	}

	log.Info().
		Str("site", summary.Site).
		Int("raw", summary.RawProducts).
		Int("normalized", summary.Normalized).
		Int("inserted", summary.Load.Inserted).
		Int("updated", summary.Load.Updated).
		Msg("Run complete")
	return nil
}

// runStage dispatches a single pipeline stage, or the full run
func runStage(ctx context.Context, p *pipeline.Pipeline, stage, site string) (pipeline.RunSummary, error) {
	switch stage {
	case "extract":
		summary := pipeline.RunSummary{Site: site}
		_, err := p.Extract(ctx, site, &summary)
		return summary, err
	case "normalize":
		return p.NormalizeArtifact(ctx, site)
	case "load":
		return p.LoadArtifact(ctx, site)
	default:
		return p.Run(ctx, site)
	}
}

// Services holds all the initialized services
type Services struct {
	Cache     cache.Service
	Loader    *warehouse.Loader
	Publisher publisher.Publisher
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
}

// initializeServices initializes the services the requested stage needs.
// The warehouse is only dialled when the run includes the load stage, and
// the publisher only when fan-out is enabled.
func initializeServices(ctx context.Context, cfg *config.Config, stage string) (*Services, error) {
	services := &Services{}

	services.Cache = cache.NewMemcacheService(cfg.MemcacheAddr)
	logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)

	if (stage == "all" || stage == "load") && cfg.DatabaseURL != "" {
		loader, err := warehouse.New(ctx, cfg.DatabaseURL, cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		services.Loader = loader
		logger.Info("Connected to warehouse")
	}

	if cfg.PublishEnabled {
		services.Publisher = publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamMaxLength,
		)
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	return services, nil
}
