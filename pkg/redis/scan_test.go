package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makinacorpus/apubsub-sub000/pkg/redis"
)

func newClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestScanKeys(t *testing.T) {
	ctx := context.Background()
	client, srv := newClient(t)
	for _, k := range []string{"apb:a", "apb:b", "other:c"} {
		require.NoError(t, srv.Set(k, "1"))
	}

	keys, err := redis.ScanKeys(ctx, client, "apb:*", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"apb:a", "apb:b"}, keys)

	keys, err = redis.ScanKeys(ctx, client, "none:*", 0)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeleteKeys(t *testing.T) {
	ctx := context.Background()
	client, srv := newClient(t)
	for _, k := range []string{"apb:a", "apb:b", "other:c"} {
		require.NoError(t, srv.Set(k, "1"))
	}

	n, err := redis.DeleteKeys(ctx, client, "apb:*", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.False(t, srv.Exists("apb:a"))
	assert.True(t, srv.Exists("other:c"))
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	client, err := redis.Connect(ctx, redis.Config{ConnectionURL: "redis://" + srv.Addr() + "/0", RetryAttempts: 1})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, redis.Healthcheck(client)(ctx))

	_, err = redis.Connect(ctx, redis.Config{})
	require.ErrorIs(t, err, redis.ErrEmptyConnectionURL)

	_, err = redis.Connect(ctx, redis.Config{ConnectionURL: "://bad"})
	require.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
}
