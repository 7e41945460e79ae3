package brokertest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

type payload struct {
	Msg string `json:"msg" msgpack:"msg"`
}

func testSend(t *testing.T, open Opener) {
	t.Run("missing channel is a no-op", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		m, err := b.Send(ctx, []string{"nope"}, payload{"hi"})
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("message attributes", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")

		m, err := c.Send(ctx, payload{"hi"},
			apubsub.WithType("greeting"),
			apubsub.WithOrigin("test"),
			apubsub.WithLevel(3),
		)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.NotZero(t, m.ID)
		assert.Equal(t, []string{"foo"}, m.ChannelIDs)
		assert.Equal(t, "greeting", m.Type)
		assert.Equal(t, "test", m.Origin)
		assert.Equal(t, 3, m.Level)
		assert.True(t, clock.Now().Equal(m.SentAt))

		got, err := b.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		var p payload
		require.NoError(t, got.Unmarshal(&p))
		assert.Equal(t, "hi", p.Msg)
		assert.Equal(t, "greeting", got.Type)

		_, err = b.GetMessage(ctx, m.ID+1000)
		require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
	})

	t.Run("explicit sent date", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		at := clock.Now().Add(-time.Hour)
		m := mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithSentAt(at))
		assert.True(t, at.Equal(m.SentAt))
	})

	t.Run("raw contents bypass the codec", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		m := mustSend(t, ctx, b, []string{"foo"}, apubsub.Raw("opaque"))
		got, err := b.GetMessage(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("opaque"), got.Contents)
	})

	t.Run("fan-out snapshot", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")
		s1 := mustSubscribe(t, ctx, b, "foo", "s1")
		s2 := mustSubscribe(t, ctx, b, "foo", "s2")
		late, err := c.Subscribe(ctx)
		require.NoError(t, err)

		m := mustSend(t, ctx, b, []string{"foo"}, "hello")

		cursor, err := b.Fetch(apubsub.Conditions{apubsub.FieldMsgID: m.ID})
		msgs := fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 2)
		assert.ElementsMatch(t, []int64{s1.ID, s2.ID}, []int64{msgs[0].SubscriptionID, msgs[1].SubscriptionID})
		assert.NotEqual(t, msgs[0].QueueID, msgs[1].QueueID)

		require.NoError(t, late.Activate(ctx))
		cursor, err = late.Fetch(nil)
		assert.Empty(t, fetch(t, ctx, cursor, err), "activation is not retroactive")
	})

	t.Run("exclusion", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s1 := mustSubscribe(t, ctx, b, "foo", "s1")
		s2 := mustSubscribe(t, ctx, b, "foo", "s2")
		s3 := mustSubscribe(t, ctx, b, "foo", "s3")

		m := mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithExcluded(s2.ID))
		cursor, err := b.Fetch(apubsub.Conditions{apubsub.FieldMsgID: m.ID})
		msgs := fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 2)
		assert.ElementsMatch(t, []int64{s1.ID, s3.ID}, []int64{msgs[0].SubscriptionID, msgs[1].SubscriptionID})
	})

	t.Run("multiple channels", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		mustChannel(t, ctx, b, "bar")
		mustSubscribe(t, ctx, b, "foo", "john")
		mustSubscribe(t, ctx, b, "bar", "john")
		mustSubscribe(t, ctx, b, "bar", "doe")
		clock.Advance(time.Minute)

		m := mustSend(t, ctx, b, []string{"foo", "nope", "bar"}, "x")
		assert.ElementsMatch(t, []string{"foo", "bar"}, m.ChannelIDs)

		cursor, err := b.GetSubscriber("john").Fetch(nil)
		msgs := fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 2, "one entry per subscription")
		assert.Equal(t, m.ID, msgs[0].ID)
		assert.Equal(t, m.ID, msgs[1].ID)

		foo, err := b.GetChannel(ctx, "foo")
		require.NoError(t, err)
		assert.True(t, clock.Now().Equal(foo.UpdatedAt))
	})

	t.Run("message delete removes the queue entry", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")
		other := mustSubscribe(t, ctx, b, "foo", "baz")
		mustSend(t, ctx, b, []string{"foo"}, "x")

		cursor, err := s.Fetch(nil)
		msgs := fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 1)
		require.NoError(t, msgs[0].Delete(ctx))

		cursor, err = s.Fetch(nil)
		assert.Empty(t, fetch(t, ctx, cursor, err))
		cursor, err = other.Fetch(nil)
		assert.Len(t, fetch(t, ctx, cursor, err), 1)

		loaded, err := b.GetMessage(ctx, msgs[0].ID)
		require.NoError(t, err)
		require.ErrorIs(t, loaded.SetUnread(ctx, false), apubsub.ErrInvalidState)
	})
}

func testReadState(t *testing.T, open Opener) {
	t.Run("idempotent unread toggle", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")
		mustSend(t, ctx, b, []string{"foo"}, "x")

		cursor, err := s.Fetch(nil)
		msgs := fetch(t, ctx, cursor, err)
		require.Len(t, msgs, 1)
		queueID := msgs[0].QueueID
		assert.True(t, msgs[0].Unread)
		assert.True(t, msgs[0].ReadAt.IsZero())

		require.NoError(t, b.SetUnread(ctx, queueID, false))
		cursor, err = s.Fetch(nil)
		first := fetch(t, ctx, cursor, err)[0]
		assert.False(t, first.Unread)
		assert.True(t, clock.Now().Equal(first.ReadAt))

		clock.Advance(time.Hour)
		require.NoError(t, b.SetUnread(ctx, queueID, false))
		cursor, err = s.Fetch(nil)
		second := fetch(t, ctx, cursor, err)[0]
		assert.False(t, second.Unread)
		assert.True(t, first.ReadAt.Equal(second.ReadAt), "read date is set once")

		require.NoError(t, b.SetUnread(ctx, queueID, true))
		cursor, err = s.Fetch(nil)
		third := fetch(t, ctx, cursor, err)[0]
		assert.True(t, third.Unread)
		assert.True(t, third.ReadAt.IsZero())

		require.NoError(t, b.SetUnread(ctx, queueID+1000, false), "missing entry is silent")
	})

	t.Run("mass update isolation", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		a := mustSubscribe(t, ctx, b, "foo", "a")
		other := mustSubscribe(t, ctx, b, "foo", "b")
		mustSend(t, ctx, b, []string{"foo"}, "x")
		mustSend(t, ctx, b, []string{"foo"}, "y")

		cursor, err := a.Fetch(nil)
		require.NoError(t, err)
		require.NoError(t, cursor.Update(ctx, apubsub.Values{apubsub.FieldMsgUnread: false}))

		cursor, err = a.Fetch(apubsub.Conditions{apubsub.FieldMsgUnread: true})
		require.NoError(t, err)
		n, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		cursor, err = other.Fetch(apubsub.Conditions{apubsub.FieldMsgUnread: true})
		require.NoError(t, err)
		n, err = cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("mass update ignores the window", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "a")
		for range 3 {
			mustSend(t, ctx, b, []string{"foo"}, "x")
		}

		cursor, err := s.Fetch(nil)
		require.NoError(t, err)
		require.NoError(t, cursor.SetLimit(1))
		require.NoError(t, cursor.Update(ctx, apubsub.Values{apubsub.FieldMsgUnread: false}))

		cursor, err = s.Fetch(apubsub.Conditions{apubsub.FieldMsgUnread: false})
		require.NoError(t, err)
		n, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func testCascade(t *testing.T, open Opener) {
	ctx, b, _ := setup(t, open)
	c := mustChannel(t, ctx, b, "foo")
	mustChannel(t, ctx, b, "bar")
	s1 := mustSubscribe(t, ctx, b, "foo", "john")
	mustSubscribe(t, ctx, b, "foo", "doe")
	kept := mustSubscribe(t, ctx, b, "bar", "john")

	own1 := mustSend(t, ctx, b, []string{"foo"}, "a")
	own2 := mustSend(t, ctx, b, []string{"foo"}, "b")
	shared := mustSend(t, ctx, b, []string{"foo", "bar"}, "c")

	require.NoError(t, c.Delete(ctx))

	_, err := b.GetChannel(ctx, "foo")
	require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)
	_, err = b.GetSubscription(ctx, s1.ID)
	require.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)

	cursor, err := b.Fetch(apubsub.Conditions{apubsub.FieldChannelID: "foo"})
	assert.Empty(t, fetch(t, ctx, cursor, err))

	for _, m := range []*apubsub.Message{own1, own2} {
		_, err = b.GetMessage(ctx, m.ID)
		require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
	}
	_, err = b.GetMessage(ctx, shared.ID)
	require.NoError(t, err, "a message still queued elsewhere survives")

	cursor, err = kept.Fetch(nil)
	msgs := fetch(t, ctx, cursor, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, shared.ID, msgs[0].ID)

	analysis, err := b.Analysis(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, analysis.Channels)
	assert.EqualValues(t, 1, analysis.Subscriptions)
	assert.EqualValues(t, 1, analysis.Messages)
	assert.EqualValues(t, 1, analysis.QueueSize)
}
