package apubsub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/memory"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := apubsub.NewRegistry()
	require.NoError(t, r.Register(memory.Engine, memory.Factory(memory.Config{})))

	t.Run("open registered", func(t *testing.T) {
		b, err := r.Open(ctx, memory.Engine, apubsub.WithCacheSize(8))
		require.NoError(t, err)
		_, err = b.CreateChannel(ctx, "a", "", false)
		require.NoError(t, err)
	})

	t.Run("unknown tag", func(t *testing.T) {
		_, err := r.Open(ctx, "nope")
		assert.ErrorIs(t, err, apubsub.ErrUnknownBackend)
	})

	t.Run("duplicate tag", func(t *testing.T) {
		assert.ErrorIs(t, r.Register(memory.Engine, memory.Factory(memory.Config{})), apubsub.ErrBackendAlreadyRegistered)
		assert.Panics(t, func() { r.MustRegister(memory.Engine, memory.Factory(memory.Config{})) })
	})

	t.Run("invalid factory", func(t *testing.T) {
		assert.ErrorIs(t, r.Register("", memory.Factory(memory.Config{})), apubsub.ErrInvalidFactory)
		assert.ErrorIs(t, r.Register("x", nil), apubsub.ErrInvalidFactory)
	})

	t.Run("tags are sorted", func(t *testing.T) {
		r := apubsub.NewRegistry()
		r.MustRegister("b", memory.Factory(memory.Config{}))
		r.MustRegister("a", memory.Factory(memory.Config{}))
		assert.Equal(t, []string{"a", "b"}, r.Tags())
	})
}
