package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ybenali/salespipeline/internal/normalizer"
	apperr "ybenali/salespipeline/pkg/errors"
)

// rowOutcome scripts what the fake returns for one upserted key
type rowOutcome struct {
	inserted bool
	err      error
}

type fakeRow struct {
	outcome rowOutcome
}

func (r fakeRow) Scan(dest ...any) error {
	if r.outcome.err != nil {
		return r.outcome.err
	}
	*(dest[0].(*bool)) = r.outcome.inserted
	return nil
}

type fakeDB struct {
	outcomes map[string]rowOutcome
	execErr  error
	pingErr  error

	execSQL []string
	keys    []string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	key := args[1].(string)
	f.keys = append(f.keys, key)
	if out, ok := f.outcomes[key]; ok {
		return fakeRow{outcome: out}
	}
	return fakeRow{outcome: rowOutcome{inserted: true}}
}

func (f *fakeDB) Ping(_ context.Context) error {
	return f.pingErr
}

func product(sku string) normalizer.NormalizedProduct {
	price := 129.99
	return normalizer.NormalizedProduct{
		Website:      "jumia",
		SKU:          sku,
		Name:         "Casque Bluetooth",
		URL:          "https://www.jumia.ma/casque-" + sku + ".html",
		CurrentPrice: &price,
		ScrapedAt:    time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestEnsureSchemaIdempotentStatements(t *testing.T) {
	db := &fakeDB{}
	loader := NewWithDB(db, 100)

	require.NoError(t, loader.EnsureSchema(context.Background()))
	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "CREATE TABLE IF NOT EXISTS products")
	assert.Contains(t, db.execSQL[0], "UNIQUE (website, sku)")
	assert.NotContains(t, db.execSQL[0], "DROP")
}

func TestEnsureSchemaFailureIsSchemaError(t *testing.T) {
	db := &fakeDB{execErr: errors.New("permission denied")}
	loader := NewWithDB(db, 100)

	err := loader.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeSchema, apperr.TypeOf(err))
}

func TestKeyPrefersSKU(t *testing.T) {
	p := product("SK123")
	assert.Equal(t, "SK123", Key(p))
}

func TestKeyFallsBackToURLHash(t *testing.T) {
	p := product("")
	key := Key(p)
	assert.True(t, strings.HasPrefix(key, "url:"))
	assert.Len(t, key, len("url:")+16)

	// Stable across calls, distinct across URLs
	assert.Equal(t, key, Key(p))
	other := product("")
	other.URL = "https://www.jumia.ma/autre.html"
	assert.NotEqual(t, key, Key(other))
}

func TestUpsertCountsInsertsAndUpdates(t *testing.T) {
	db := &fakeDB{outcomes: map[string]rowOutcome{
		"SK1": {inserted: true},
		"SK2": {inserted: false},
		"SK3": {inserted: true},
	}}
	loader := NewWithDB(db, 100)

	result, err := loader.Upsert(context.Background(), []normalizer.NormalizedProduct{
		product("SK1"), product("SK2"), product("SK3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Updated)
	assert.Empty(t, result.Failed)
}

func TestUpsertIsolatesRecordFailures(t *testing.T) {
	db := &fakeDB{outcomes: map[string]rowOutcome{
		"SK2": {err: errors.New("value too long for type")},
	}}
	loader := NewWithDB(db, 100)

	result, err := loader.Upsert(context.Background(), []normalizer.NormalizedProduct{
		product("SK1"), product("SK2"), product("SK3"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "SK2", result.Failed[0].Key)
	assert.Contains(t, result.Failed[0].Reason, "value too long")

	// The failure did not stop the remaining records
	assert.Equal(t, []string{"SK1", "SK2", "SK3"}, db.keys)
}

func TestUpsertAbortsOnLostConnection(t *testing.T) {
	db := &fakeDB{
		outcomes: map[string]rowOutcome{
			"SK2": {err: errors.New("unexpected EOF")},
		},
		pingErr: errors.New("connection refused"),
	}
	loader := NewWithDB(db, 100)

	result, err := loader.Upsert(context.Background(), []normalizer.NormalizedProduct{
		product("SK1"), product("SK2"), product("SK3"),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.ErrorTypeConnection, apperr.TypeOf(err))
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, []string{"SK1", "SK2"}, db.keys)
}

func TestUpsertSkipsStaleCaptures(t *testing.T) {
	db := &fakeDB{outcomes: map[string]rowOutcome{
		"SK1": {err: pgx.ErrNoRows},
	}}
	loader := NewWithDB(db, 100)

	result, err := loader.Upsert(context.Background(), []normalizer.NormalizedProduct{product("SK1")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Inserted)
	assert.Empty(t, result.Failed)
}

func TestUpsertBatchesRespectContext(t *testing.T) {
	db := &fakeDB{}
	loader := NewWithDB(db, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var products []normalizer.NormalizedProduct
	for i := 0; i < 6; i++ {
		products = append(products, product(fmt.Sprintf("SK%d", i)))
	}

	_, err := loader.Upsert(ctx, products)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, db.keys)
}
