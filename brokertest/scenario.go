package brokertest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func testScenarios(t *testing.T, open Opener) {
	t.Run("subscriber reads a message", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		bar := b.GetSubscriber("bar")
		sub, err := bar.Subscribe(ctx, "foo")
		require.NoError(t, err)
		assert.True(t, sub.Active)

		sent := mustSend(t, ctx, b, []string{"foo"}, map[string]string{"msg": "hi"})

		cursor, err := bar.Fetch(nil)
		msgs := fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 1)
		m := msgs[0]
		assert.Equal(t, sent.ID, m.ID)
		assert.True(t, m.Unread)
		assert.Equal(t, "foo", m.ChannelID)
		assert.Equal(t, "bar", m.Subscriber)

		var contents map[string]string
		require.NoError(t, m.Unmarshal(&contents))
		assert.Equal(t, "hi", contents["msg"])

		require.NoError(t, m.SetUnread(ctx, false))

		cursor, err = bar.Fetch(nil)
		msgs = fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, sent.ID, msgs[0].ID)
		assert.False(t, msgs[0].Unread)
		assert.False(t, msgs[0].ReadAt.IsZero())
	})

	t.Run("excluded subscriber", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "news")
		john := b.GetSubscriber("john")
		doe := b.GetSubscriber("doe")
		_, err := john.Subscribe(ctx, "news")
		require.NoError(t, err)
		doeSub, err := doe.Subscribe(ctx, "news")
		require.NoError(t, err)

		mustSend(t, ctx, b, []string{"news"}, "x", apubsub.WithExcluded(doeSub.ID))

		cursor, err := john.Fetch(nil)
		require.NoError(t, err)
		n, err := cursor.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		cursor, err = doe.Fetch(nil)
		require.NoError(t, err)
		n, err = cursor.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
