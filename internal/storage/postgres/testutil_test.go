package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB creates a PostgreSQL container for testing and applies the
// schema. Returns a cleanup function that must be called after tests
// complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	applySchema(t, ctx, pool)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// applySchema creates the tables the stores under test need. The watermark
// table comes from the store's own EnsureSchema; the timeframe catalog is
// reference data owned elsewhere, so its DDL lives here.
func applySchema(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	err := NewWatermarkStore(pool).EnsureSchema(ctx)
	require.NoError(t, err, "failed to ensure watermark schema")

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS timeframes (
			code          TEXT    PRIMARY KEY,
			tf_days       INTEGER NOT NULL,
			family        TEXT    NOT NULL,
			valid_from_ms BIGINT  NOT NULL DEFAULT 0,
			valid_to_ms   BIGINT
		)
	`)
	require.NoError(t, err, "failed to create timeframes table")
}

// seedTimeframes inserts catalog fixture rows.
func seedTimeframes(t *testing.T, ctx context.Context, pool *Pool) {
	t.Helper()

	_, err := pool.Exec(ctx, `
		INSERT INTO timeframes (code, tf_days, family, valid_from_ms, valid_to_ms) VALUES
			('7d',  7,  'tf_day',   0, NULL),
			('30d', 30, 'tf_day',   0, NULL),
			('1w',  7,  'calendar', 0, 1735689600000)
		ON CONFLICT (code) DO NOTHING
	`)
	require.NoError(t, err, "failed to seed timeframes")
}
