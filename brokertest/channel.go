package brokertest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func testChannels(t *testing.T, open Opener) {
	t.Run("create and get", func(t *testing.T) {
		ctx, b, clock := setup(t, open)

		c, err := b.CreateChannel(ctx, "foo", "Foo", false)
		require.NoError(t, err)
		assert.Equal(t, "foo", c.ID)
		assert.Equal(t, "Foo", c.Title)
		assert.True(t, clock.Now().Equal(c.CreatedAt))

		got, err := b.GetChannel(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, "Foo", got.Title)
		assert.Same(t, b, got.Backend())
	})

	t.Run("duplicate fails unless ignored", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		_, err := b.CreateChannel(ctx, "foo", "first", false)
		require.NoError(t, err)

		_, err = b.CreateChannel(ctx, "foo", "second", false)
		require.ErrorIs(t, err, apubsub.ErrChannelAlreadyExists)

		c, err := b.CreateChannel(ctx, "foo", "second", true)
		require.NoError(t, err)
		assert.Equal(t, "first", c.Title)
	})

	t.Run("missing channel", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		_, err := b.GetChannel(ctx, "nope")
		require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)

		require.ErrorIs(t, b.DeleteChannel(ctx, "nope", false), apubsub.ErrChannelDoesNotExist)
		require.NoError(t, b.DeleteChannel(ctx, "nope", true))
	})

	t.Run("batch creation is all or nothing", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "a")

		_, err := b.CreateChannels(ctx, []string{"b", "a", "c"}, false)
		require.ErrorIs(t, err, apubsub.ErrChannelAlreadyExists)
		_, err = b.GetChannel(ctx, "b")
		require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)

		chans, err := b.CreateChannels(ctx, []string{"b", "a", "c"}, true)
		require.NoError(t, err)
		require.Len(t, chans, 3)

		got, err := b.GetChannels(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		assert.Len(t, got, 3)

		_, err = b.GetChannels(ctx, []string{"a", "nope"})
		require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)
	})

	t.Run("batch creation rejects repeated ids", func(t *testing.T) {
		ctx, b, _ := setup(t, open)

		_, err := b.CreateChannels(ctx, []string{"a", "b", "a"}, false)
		require.ErrorIs(t, err, apubsub.ErrChannelAlreadyExists)
		for _, id := range []string{"a", "b"} {
			_, err = b.GetChannel(ctx, id)
			require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist, id)
		}

		chans, err := b.CreateChannels(ctx, []string{"a", "a"}, true)
		require.NoError(t, err)
		require.Len(t, chans, 2)
		assert.Equal(t, "a", chans[0].ID)
		assert.Equal(t, "a", chans[1].ID)
	})

	t.Run("concurrent creation converges", func(t *testing.T) {
		ctx, b, _ := setup(t, open)

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = b.CreateChannel(ctx, "race", "", true)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		cursor, err := b.FetchChannels(apubsub.Conditions{apubsub.FieldChannelID: "race"})
		require.NoError(t, err)
		total, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("batch deletion", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		_, err := b.CreateChannels(ctx, []string{"a", "b"}, false)
		require.NoError(t, err)

		require.ErrorIs(t, b.DeleteChannels(ctx, []string{"a", "nope"}, false), apubsub.ErrChannelDoesNotExist)
		_, err = b.GetChannel(ctx, "a")
		require.NoError(t, err, "failed batch must not delete anything")

		require.NoError(t, b.DeleteChannels(ctx, []string{"a", "nope"}, true))
		_, err = b.GetChannel(ctx, "a")
		require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)
	})

	t.Run("set title", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")
		clock.Advance(time.Minute)

		require.NoError(t, c.SetTitle(ctx, "Renamed"))
		assert.Equal(t, "Renamed", c.Title)

		got, err := b.GetChannel(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})

	t.Run("fetch channels", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		for _, id := range []string{"c", "a", "b"} {
			mustChannel(t, ctx, b, id)
			clock.Advance(time.Second)
		}

		cursor, err := b.FetchChannels(nil)
		require.NoError(t, err)
		chans, err := cursor.Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, chans, 3)
		assert.Equal(t, []string{"c", "a", "b"}, []string{chans[0].ID, chans[1].ID, chans[2].ID}, "creation order by default")

		cursor, err = b.FetchChannels(apubsub.Conditions{apubsub.FieldChannelID: []string{"a", "b"}})
		require.NoError(t, err)
		require.NoError(t, cursor.AddSort(apubsub.FieldChannelID, apubsub.Desc))
		chans, err = cursor.Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, chans, 2)
		assert.Equal(t, "b", chans[0].ID)
		assert.Equal(t, "a", chans[1].ID)

		_, err = b.FetchChannels(apubsub.Conditions{apubsub.FieldMsgLevel: 1})
		require.ErrorIs(t, err, apubsub.ErrUnsupportedFilterField)
	})

	t.Run("delete through cursor", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		_, err := b.CreateChannels(ctx, []string{"a", "b", "c"}, false)
		require.NoError(t, err)

		cursor, err := b.FetchChannels(apubsub.Conditions{apubsub.FieldChannelID: apubsub.Neq("b")})
		require.NoError(t, err)
		require.NoError(t, cursor.Delete(ctx))

		cursor, err = b.FetchChannels(nil)
		require.NoError(t, err)
		total, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})
}
