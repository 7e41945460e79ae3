package redisdb

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func TestAtomicallyGivesUpOnPersistentConflicts(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(client, Config{MaxRetries: 3})

	attempts := 0
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		attempts++
		// a concurrent writer bumps the revision on every attempt
		require.NoError(t, client.Incr(ctx, b.revKey()).Err())
		return func(p redis.Pipeliner) error {
			p.Set(ctx, b.key("probe"), "x", 0)
			return nil
		}, nil
	})
	require.ErrorIs(t, err, apubsub.ErrTransientConflict)
	assert.Equal(t, 3, attempts)
	assert.False(t, srv.Exists("apb:probe"))
}

func TestAtomicallyRetriesUntilCommit(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(client, Config{})

	attempts := 0
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		attempts++
		if attempts == 1 {
			require.NoError(t, client.Incr(ctx, b.revKey()).Err())
		}
		return func(p redis.Pipeliner) error {
			p.Set(ctx, b.key("probe"), "x", 0)
			return nil
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, srv.Exists("apb:probe"))
}

func TestAtomicallyWithoutWritesCommitsNothing(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := New(client, Config{})

	err := b.atomically(ctx, func(*redis.Tx) (func(redis.Pipeliner) error, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, srv.Exists(b.revKey()))
}
