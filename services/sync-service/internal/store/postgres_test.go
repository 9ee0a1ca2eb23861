package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// Set MAILROOM_TEST_DATABASE_URL to run the store tests against Postgres.
// Every test gets its own schema, dropped on cleanup.
const postgresTestURLEnv = "MAILROOM_TEST_DATABASE_URL"

func testPostgresStore(t *testing.T) Store {
	t.Helper()
	url := os.Getenv(postgresTestURLEnv)
	if url == "" {
		t.Skipf("%s not set", postgresTestURLEnv)
	}
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close(context.Background()) })

	schema := "mailroom_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
	})

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	// The schema is created with IF NOT EXISTS and must stay re-runnable
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStore(t *testing.T) {
	if os.Getenv(postgresTestURLEnv) == "" {
		t.Skipf("%s not set", postgresTestURLEnv)
	}
	runStoreTests(t, testPostgresStore)
}
