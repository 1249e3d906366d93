package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	apperr "ybenali/salespipeline/pkg/errors"
)

// Config represents the application configuration
type Config struct {
	// Warehouse configuration
	DatabaseURL string
	BatchSize   int

	// Redis configuration (normalized product fan-out)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamMaxLength int
	PublishEnabled       bool

	// Memcache configuration (fetch cooldown cache)
	MemcacheAddr string

	// HTTP client configuration
	RequestDelay   time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Scraper configuration
	JumiaURL            string
	MaxPagesPerCategory int
	CategoryWorkers     int

	// Pipeline configuration
	DataDir   string
	RunBudget time.Duration

	// Metrics
	MetricsPort string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	streamMaxLen, _ := strconv.Atoi(getEnv("REDIS_STREAM_MAX_LENGTH", "500"))
	batchSize, _ := strconv.Atoi(getEnv("BATCH_SIZE", "100"))
	requestDelay, _ := strconv.Atoi(getEnv("REQUEST_DELAY_MS", "1000"))
	requestTimeout, _ := strconv.Atoi(getEnv("REQUEST_TIMEOUT_SECONDS", "15"))
	maxRetries, _ := strconv.Atoi(getEnv("MAX_RETRIES", "3"))
	retryBase, _ := strconv.Atoi(getEnv("RETRY_BASE_DELAY_MS", "2000"))
	maxPages, _ := strconv.Atoi(getEnv("MAX_PAGES_PER_CATEGORY", "5"))
	workers, _ := strconv.Atoi(getEnv("CATEGORY_WORKERS", "1"))
	runBudget, _ := strconv.Atoi(getEnv("RUN_BUDGET_SECONDS", "0"))

	return &Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		BatchSize:            batchSize,
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "products"),
		RedisStreamMaxLength: streamMaxLen,
		PublishEnabled:       getEnv("PUBLISH_ENABLED", "false") == "true",
		MemcacheAddr:         getEnv("MEMCACHE_ADDR", "localhost:11211"),
		RequestDelay:         time.Duration(requestDelay) * time.Millisecond,
		RequestTimeout:       time.Duration(requestTimeout) * time.Second,
		MaxRetries:           maxRetries,
		RetryBaseDelay:       time.Duration(retryBase) * time.Millisecond,
		JumiaURL:             getEnv("JUMIA_URL", "https://www.jumia.ma"),
		MaxPagesPerCategory:  maxPages,
		CategoryWorkers:      workers,
		DataDir:              getEnv("DATA_DIR", "data"),
		RunBudget:            time.Duration(runBudget) * time.Second,
		MetricsPort:          getEnv("METRICS_PORT", ""),
		Environment:          getEnv("SALES_ENVIRONMENT", "development"),
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return apperr.NewConfiguration(fmt.Sprintf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries), nil)
	}
	if c.BatchSize < 1 {
		return apperr.NewConfiguration(fmt.Sprintf("BATCH_SIZE must be at least 1, got %d", c.BatchSize), nil)
	}
	if c.CategoryWorkers < 1 {
		return apperr.NewConfiguration(fmt.Sprintf("CATEGORY_WORKERS must be at least 1, got %d", c.CategoryWorkers), nil)
	}
	if c.MaxPagesPerCategory < 1 {
		return apperr.NewConfiguration(fmt.Sprintf("MAX_PAGES_PER_CATEGORY must be at least 1, got %d", c.MaxPagesPerCategory), nil)
	}
	if c.RequestTimeout <= 0 {
		return apperr.NewConfiguration("REQUEST_TIMEOUT_SECONDS must be positive", nil)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
