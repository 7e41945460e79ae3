package brokertest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func queueSize(t *testing.T, b apubsub.Backend) int64 {
	t.Helper()
	a, err := b.Analysis(t.Context())
	require.NoError(t, err)
	return a.QueueSize
}

func testGarbageCollection(t *testing.T, open Opener) {
	t.Run("inactive sweep", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		active := mustSubscribe(t, ctx, b, "foo", "a")
		inactive := mustSubscribe(t, ctx, b, "foo", "b")
		mustSend(t, ctx, b, []string{"foo"}, "x")
		require.NoError(t, inactive.Deactivate(ctx))

		require.NoError(t, b.GarbageCollection(ctx))
		cursor, err := inactive.Fetch(nil)
		assert.Empty(t, fetch(t, ctx, cursor, err))
		cursor, err = active.Fetch(nil)
		assert.Len(t, fetch(t, ctx, cursor, err), 1)

		require.NoError(t, b.GarbageCollection(ctx), "passes are idempotent")
		assert.EqualValues(t, 1, queueSize(t, b))
	})

	t.Run("inactive sweep disabled", func(t *testing.T) {
		ctx, b, _ := setup(t, open, apubsub.WithSweepInactive(false))
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "a")
		mustSend(t, ctx, b, []string{"foo"}, "x")
		require.NoError(t, s.Deactivate(ctx))

		require.NoError(t, b.GarbageCollection(ctx))
		cursor, err := s.Fetch(nil)
		assert.Len(t, fetch(t, ctx, cursor, err), 1)
	})

	t.Run("queue size cap", func(t *testing.T) {
		ctx, b, clock := setup(t, open, apubsub.WithQueueMaxSize(2))
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "a")
		sent := make([]int64, 0, 4)
		for range 4 {
			sent = append(sent, mustSend(t, ctx, b, []string{"foo"}, "x").ID)
			clock.Advance(time.Second)
		}

		require.NoError(t, b.GarbageCollection(ctx))
		cursor, err := s.Fetch(nil)
		assert.Equal(t, sent[2:], messageIDs(fetch(t, ctx, cursor, err)), "most recent entries survive")
	})

	t.Run("queue size cap is approximate", func(t *testing.T) {
		ctx, b, _ := setup(t, open, apubsub.WithQueueMaxSize(2))
		mustChannel(t, ctx, b, "foo")
		for _, name := range []string{"a", "b", "c"} {
			mustSubscribe(t, ctx, b, "foo", name)
		}
		mustSend(t, ctx, b, []string{"foo"}, "old")
		mustSend(t, ctx, b, []string{"foo"}, "new")

		require.NoError(t, b.GarbageCollection(ctx))
		assert.EqualValues(t, 3, queueSize(t, b), "entries sharing the boundary message survive")
	})

	t.Run("message lifetime", func(t *testing.T) {
		ctx, b, clock := setup(t, open, apubsub.WithMessageMaxLifetime(time.Hour))
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "a")
		old := mustSend(t, ctx, b, []string{"foo"}, "old")
		clock.Advance(2 * time.Hour)
		fresh := mustSend(t, ctx, b, []string{"foo"}, "fresh")

		require.NoError(t, b.GarbageCollection(ctx))
		_, err := b.GetMessage(ctx, old.ID)
		require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
		cursor, err := s.Fetch(nil)
		assert.Equal(t, []int64{fresh.ID}, messageIDs(fetch(t, ctx, cursor, err)))
	})

	t.Run("reverse orphan sweep", func(t *testing.T) {
		ctx, b, _ := setup(t, open, apubsub.WithMessageMaxLifetime(time.Hour))
		c := mustChannel(t, ctx, b, "foo")
		_, err := c.Subscribe(ctx)
		require.NoError(t, err)
		unqueued := mustSend(t, ctx, b, []string{"foo"}, "nobody listens")

		require.NoError(t, b.GarbageCollection(ctx))
		_, err = b.GetMessage(ctx, unqueued.ID)
		require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
	})

	t.Run("orphans are swept without a lifetime", func(t *testing.T) {
		ctx, b, _ := setup(t, open, apubsub.WithQueueMaxSize(1))
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "a")
		first := mustSend(t, ctx, b, []string{"foo"}, "x")
		second := mustSend(t, ctx, b, []string{"foo"}, "y")
		require.NoError(t, s.Delete(ctx))

		require.NoError(t, b.GarbageCollection(ctx))
		for _, id := range []int64{first.ID, second.ID} {
			_, err := b.GetMessage(ctx, id)
			require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
		}
		a, err := b.Analysis(ctx)
		require.NoError(t, err)
		assert.Zero(t, a.Messages)
		assert.Zero(t, a.QueueSize)
	})

	t.Run("messages deleted through a cursor are collected", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		mustSubscribe(t, ctx, b, "foo", "a")
		kept := mustSend(t, ctx, b, []string{"foo"}, "kept")
		dropped := mustSend(t, ctx, b, []string{"foo"}, "dropped")

		cursor, err := b.GetSubscriber("a").Fetch(apubsub.Conditions{apubsub.FieldMsgID: dropped.ID})
		require.NoError(t, err)
		require.NoError(t, cursor.Delete(ctx))

		require.NoError(t, b.GarbageCollection(ctx))
		_, err = b.GetMessage(ctx, dropped.ID)
		require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
		_, err = b.GetMessage(ctx, kept.ID)
		require.NoError(t, err)
	})

	t.Run("collection after send", func(t *testing.T) {
		clock := NewClock()
		b := open(t, apubsub.WithClock(clock.Now), apubsub.WithQueueMaxSize(1))
		ctx := t.Context()
		mustChannel(t, ctx, b, "foo")
		mustSubscribe(t, ctx, b, "foo", "a")
		for range 3 {
			mustSend(t, ctx, b, []string{"foo"}, "x")
		}
		assert.EqualValues(t, 1, queueSize(t, b))
	})

	t.Run("flush caches keeps data", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "a")
		b.FlushCaches()

		_, err := b.GetChannel(ctx, "foo")
		require.NoError(t, err)
		_, err = b.GetSubscription(ctx, s.ID)
		require.NoError(t, err)
	})
}
