package mongodb_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/mongodb"
	"github.com/makinacorpus/apubsub-sub000/brokertest"
	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

// testClient connects to APUBSUB_TEST_MONGODB_URL, or skips.
func testClient(t *testing.T) *mongo.Client {
	t.Helper()
	url := os.Getenv("APUBSUB_TEST_MONGODB_URL")
	if url == "" {
		t.Skip("APUBSUB_TEST_MONGODB_URL is not set")
	}
	client, err := pkgmongo.New(context.Background(), pkgmongo.Config{ConnectionURL: url, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

// testConfig enables transactions when the deployment is a replica set.
func testConfig() mongodb.Config {
	return mongodb.Config{Transactions: os.Getenv("APUBSUB_TEST_MONGODB_TRANSACTIONS") == "true"}
}

// testDatabase returns a fresh, indexed database dropped at cleanup.
func testDatabase(t *testing.T, client *mongo.Client) *mongo.Database {
	t.Helper()
	ctx := context.Background()
	db := client.Database("apb_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	require.NoError(t, mongodb.EnsureIndexes(ctx, db))
	return db
}

func TestContract(t *testing.T) {
	client := testClient(t)
	brokertest.Run(t, func(t *testing.T, opts ...apubsub.Option) apubsub.Backend {
		return mongodb.New(testDatabase(t, client), testConfig(), opts...)
	})
}

func TestEnsureIndexesIsIdempotent(t *testing.T) {
	client := testClient(t)
	db := testDatabase(t, client)
	require.NoError(t, mongodb.EnsureIndexes(context.Background(), db))
}

func TestIdentityMapIsBypassedOnCreation(t *testing.T) {
	client := testClient(t)
	db := testDatabase(t, client)
	ctx := context.Background()

	b := mongodb.New(db, testConfig(), apubsub.WithDelayChecks(true))
	other := mongodb.New(db, testConfig(), apubsub.WithDelayChecks(true))

	_, err := b.CreateChannel(ctx, "foo", "", false)
	require.NoError(t, err)
	_, err = b.GetChannel(ctx, "foo")
	require.NoError(t, err)

	require.NoError(t, other.DeleteChannel(ctx, "foo", false))
	_, err = b.CreateChannel(ctx, "foo", "", false)
	require.NoError(t, err, "a stale cache entry must not make creation fail")

	a, err := b.Analysis(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.Channels)
	assert.Positive(t, a.Cached)
}

func TestFactory(t *testing.T) {
	url := os.Getenv("APUBSUB_TEST_MONGODB_URL")
	if url == "" {
		t.Skip("APUBSUB_TEST_MONGODB_URL is not set")
	}
	name := "apb_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	r := apubsub.NewRegistry()
	r.MustRegister(mongodb.Engine, mongodb.Factory(pkgmongo.Config{
		ConnectionURL: url,
		Database:      name,
		RetryAttempts: 1,
	}, testConfig()))

	b, err := r.Open(context.Background(), mongodb.Engine)
	require.NoError(t, err)
	mb, ok := b.(*mongodb.Backend)
	require.True(t, ok)
	t.Cleanup(func() {
		_ = mb.Database().Drop(context.Background())
		_ = mb.Close(context.Background())
	})
	assert.Equal(t, name, mb.Database().Name())
}
