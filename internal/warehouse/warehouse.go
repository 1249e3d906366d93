package warehouse

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ybenali/salespipeline/internal/normalizer"
	"ybenali/salespipeline/logger"
	apperr "ybenali/salespipeline/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS products (
	id BIGSERIAL PRIMARY KEY,
	website VARCHAR(50) NOT NULL,
	sku VARCHAR(100) NOT NULL,
	name TEXT,
	url TEXT,
	current_price NUMERIC(10, 2),
	old_price NUMERIC(10, 2),
	discount NUMERIC(5, 2),
	rating NUMERIC(3, 2),
	review_count INTEGER,
	is_official_store BOOLEAN NOT NULL DEFAULT FALSE,
	image_url TEXT,
	scraped_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (website, sku)
);

CREATE INDEX IF NOT EXISTS idx_products_website ON products (website);
CREATE INDEX IF NOT EXISTS idx_products_scraped_at ON products (scraped_at);
`

// upsertSQL overwrites mutable fields on key collision and preserves
// created_at. The scraped_at guard makes concurrent loads of the same
// key resolve deterministically to the most recent capture.
const upsertSQL = `
INSERT INTO products (
	website, sku, name, url, current_price, old_price,
	discount, rating, review_count, is_official_store,
	image_url, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (website, sku) DO UPDATE SET
	name = EXCLUDED.name,
	url = EXCLUDED.url,
	current_price = EXCLUDED.current_price,
	old_price = EXCLUDED.old_price,
	discount = EXCLUDED.discount,
	rating = EXCLUDED.rating,
	review_count = EXCLUDED.review_count,
	is_official_store = EXCLUDED.is_official_store,
	image_url = EXCLUDED.image_url,
	scraped_at = EXCLUDED.scraped_at
WHERE products.scraped_at IS NULL OR products.scraped_at <= EXCLUDED.scraped_at
RETURNING (xmax = 0) AS inserted
`

// DB is the slice of pgxpool.Pool the loader uses. Kept as an interface
// so the loader can be exercised against a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// FailedKey identifies one record that could not be upserted
type FailedKey struct {
	Website string `json:"website"`
	Key     string `json:"key"`
	Reason  string `json:"reason"`
}

// LoadResult accounts for every record handed to Upsert
type LoadResult struct {
	Inserted int         `json:"inserted"`
	Updated  int         `json:"updated"`
	Skipped  int         `json:"skipped"`
	Failed   []FailedKey `json:"failed,omitempty"`
}

// Loader persists normalized products into the warehouse
type Loader struct {
	db        DB
	batchSize int
	log       *logger.Logger
}

// New connects a Loader to the warehouse
func New(ctx context.Context, databaseURL string, batchSize int) (*Loader, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, apperr.NewConnection("failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.NewConnection("warehouse unreachable", err)
	}
	return NewWithDB(pool, batchSize), nil
}

// NewWithDB creates a Loader over an existing database handle
func NewWithDB(db DB, batchSize int) *Loader {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Loader{
		db:        db,
		batchSize: batchSize,
		log:       logger.ForLoader(),
	}
}

// EnsureSchema creates the products table and its indexes when absent.
// It never drops or recreates existing objects.
func (l *Loader) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, schemaSQL); err != nil {
		return apperr.NewSchema("failed to ensure products schema", err)
	}
	l.log.Debug().Msg("Warehouse schema ensured")
	return nil
}

// Key returns the natural key for a product: the site-assigned SKU when
// present, else a stable hash of the detail URL. Both resolve to the
// same row across repeated runs of the same listing.
func Key(p normalizer.NormalizedProduct) string {
	if p.SKU != "" {
		return p.SKU
	}
	sum := sha256.Sum256([]byte(p.URL))
	return "url:" + hex.EncodeToString(sum[:])[:16]
}

// Upsert loads products in fixed-size batches. A failure on one record
// is recorded against its key and does not abort the rest; only losing
// the warehouse connection aborts the load.
func (l *Loader) Upsert(ctx context.Context, products []normalizer.NormalizedProduct) (LoadResult, error) {
	var result LoadResult

	for start := 0; start < len(products); start += l.batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		end := start + l.batchSize
		if end > len(products) {
			end = len(products)
		}

		for _, p := range products[start:end] {
			if err := l.upsertOne(ctx, p, &result); err != nil {
				return result, err
			}
		}

		l.log.Debug().
			Int("batch_end", end).
			Int("inserted", result.Inserted).
			Int("updated", result.Updated).
			Int("failed", len(result.Failed)).
			Msg("Batch loaded")
	}

	return result, nil
}

// upsertOne loads a single record into result. The returned error is
// non-nil only for load-aborting conditions.
func (l *Loader) upsertOne(ctx context.Context, p normalizer.NormalizedProduct, result *LoadResult) error {
	key := Key(p)

	var inserted bool
	err := l.db.QueryRow(ctx, upsertSQL,
		p.Website, key, p.Name, p.URL,
		p.CurrentPrice, p.OldPrice, p.DiscountPercent,
		p.Rating, p.ReviewCount, p.IsOfficialStore,
		p.ImageURL, p.ScrapedAt,
	).Scan(&inserted)

	switch {
	case err == nil:
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
		return nil

	case errors.Is(err, pgx.ErrNoRows):
		// The scraped_at guard rejected a stale capture
		result.Skipped++
		return nil

	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if l.connectionLost(ctx) {
			return apperr.NewConnection("warehouse connection lost during load", err)
		}
		l.log.Warn().
			Str("website", p.Website).
			Str("key", key).
			Err(err).
			Msg("Record upsert failed")
		result.Failed = append(result.Failed, FailedKey{
			Website: p.Website,
			Key:     key,
			Reason:  err.Error(),
		})
		return nil
	}
}

// connectionLost distinguishes a per-record failure from a dead
// warehouse connection
func (l *Loader) connectionLost(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return l.db.Ping(pingCtx) != nil
}
