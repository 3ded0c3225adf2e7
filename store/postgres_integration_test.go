package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// postgresDSN returns a DSN from DUNNING_PG_DSN, or starts a Postgres 16
// container when DUNNING_TESTCONTAINERS=1. Otherwise the test is skipped.
func postgresDSN(ctx context.Context, t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("DUNNING_PG_DSN"); dsn != "" {
		return dsn
	}
	if os.Getenv("DUNNING_TESTCONTAINERS") != "1" {
		t.Skip("DUNNING_PG_DSN is empty and DUNNING_TESTCONTAINERS is not set; skipping postgres integration test")
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("dunning"),
		postgres.WithUsername("dunning"),
		postgres.WithPassword("dunning"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		_ = pgC.Terminate(context.Background())
	})

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "container connection string")
	return dsn
}

func TestPostgresStoreContract_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := NewPool(ctx, postgresDSN(ctx, t))
	require.NoError(t, err)
	defer pool.Close()

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	// migrations are idempotent
	require.NoError(t, s.Migrate(ctx))

	prefix := fmt.Sprintf("it-%d-", time.Now().UnixNano())
	runStoreContract(t, s, prefix)
}

func TestNewPoolRejectsEmptyDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}
