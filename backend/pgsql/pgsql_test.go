package pgsql_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/pgsql"
	"github.com/makinacorpus/apubsub-sub000/brokertest"
	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
)

// testPool connects to APUBSUB_TEST_PG_URL and migrates, or skips.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("APUBSUB_TEST_PG_URL")
	if url == "" {
		t.Skip("APUBSUB_TEST_PG_URL is not set")
	}
	ctx := context.Background()
	cfg := pg.Config{ConnectionString: url, RetryAttempts: 1, MigrationsTable: "apb_schema_migrations"}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pgsql.Migrate(ctx, pool, cfg, slog.Default()))
	return pool
}

func truncate(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE apb_queue, apb_msg, apb_sub, apb_chan RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func TestContract(t *testing.T) {
	pool := testPool(t)
	brokertest.Run(t, func(t *testing.T, opts ...apubsub.Option) apubsub.Backend {
		truncate(t, pool)
		return pgsql.New(pool, opts...)
	})
}

func TestIdentityMapIsBypassedOnCreation(t *testing.T) {
	pool := testPool(t)
	truncate(t, pool)
	ctx := context.Background()

	b := pgsql.New(pool, apubsub.WithDelayChecks(true))
	other := pgsql.New(pool, apubsub.WithDelayChecks(true))

	_, err := b.CreateChannel(ctx, "foo", "", false)
	require.NoError(t, err)
	_, err = b.GetChannel(ctx, "foo")
	require.NoError(t, err)

	// deleted by another instance: the cached copy must not block re-creation
	require.NoError(t, other.DeleteChannel(ctx, "foo", false))
	_, err = b.CreateChannel(ctx, "foo", "again", false)
	require.NoError(t, err)

	a, err := b.Analysis(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.Channels)
	assert.Positive(t, a.Cached)

	b.FlushCaches()
	a, err = b.Analysis(ctx)
	require.NoError(t, err)
	assert.Zero(t, a.Cached)
}
