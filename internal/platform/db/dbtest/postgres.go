//go:build integration

// Package dbtest starts a throwaway PostgreSQL for integration tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
)

// Pool runs a migrated PostgreSQL container and returns a pool to it. The
// test is skipped when Docker is unavailable.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()
	if _, err := testcontainers.NewDockerClientWithOpts(ctx); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("treasury"),
		postgres.WithUsername("treasury"),
		postgres.WithPassword("treasury"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 20})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.NewMigrator(pool).Up(ctx)
	require.NoError(t, err)
	return pool
}
