package brokertest

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func testSubscriptions(t *testing.T, open Opener) {
	t.Run("missing channel", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		_, err := b.Subscribe(ctx, "nope", "")
		require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)
		_, err = b.GetSubscriber("bar").Subscribe(ctx, "nope")
		require.ErrorIs(t, err, apubsub.ErrChannelDoesNotExist)
	})

	t.Run("channel subscription starts inactive", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")

		s, err := c.Subscribe(ctx)
		require.NoError(t, err)
		assert.NotZero(t, s.ID)
		assert.Equal(t, "foo", s.ChannelID)
		assert.Empty(t, s.Subscriber)
		assert.False(t, s.Active)

		_, err = s.StartDate()
		require.ErrorIs(t, err, apubsub.ErrInvalidState)
		stop, err := s.StopDate()
		require.NoError(t, err)
		assert.True(t, clock.Now().Equal(stop))
	})

	t.Run("subscriber subscription starts active", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		mustChannel(t, ctx, b, "foo")

		s := mustSubscribe(t, ctx, b, "foo", "bar")
		assert.True(t, s.Active)
		assert.Equal(t, "bar", s.Subscriber)
		start, err := s.StartDate()
		require.NoError(t, err)
		assert.True(t, clock.Now().Equal(start))
		_, err = s.StopDate()
		require.ErrorIs(t, err, apubsub.ErrInvalidState)
	})

	t.Run("subscriber subscribe is idempotent", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")

		first := mustSubscribe(t, ctx, b, "foo", "bar")
		second := mustSubscribe(t, ctx, b, "foo", "bar")
		assert.Equal(t, first.ID, second.ID)

		_, err := b.Subscribe(ctx, "foo", "bar")
		require.ErrorIs(t, err, apubsub.ErrSubscriptionAlreadyExists)
	})

	t.Run("concurrent subscriber subscribe converges", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")

		const workers = 8
		var wg sync.WaitGroup
		ids := make([]int64, workers)
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := b.GetSubscriber("bar").Subscribe(ctx, "foo")
				errs[i] = err
				if err == nil {
					ids[i] = s.ID
				}
			}()
		}
		wg.Wait()
		for i, err := range errs {
			require.NoError(t, err)
			assert.Equal(t, ids[0], ids[i])
		}

		subs, err := b.GetSubscriber("bar").GetSubscriptions(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, ids[0], subs[0].ID)
		assert.True(t, subs[0].Active)
	})

	t.Run("activate and deactivate", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")
		s, err := c.Subscribe(ctx)
		require.NoError(t, err)

		clock.Advance(time.Minute)
		require.NoError(t, s.Activate(ctx))
		assert.True(t, s.Active)
		start, err := s.StartDate()
		require.NoError(t, err)
		assert.True(t, clock.Now().Equal(start))

		activatedAt := s.ActivatedAt
		clock.Advance(time.Minute)
		require.NoError(t, s.Activate(ctx))
		assert.True(t, activatedAt.Equal(s.ActivatedAt), "no-op activation keeps the date")

		require.NoError(t, s.Deactivate(ctx))
		assert.False(t, s.Active)
		stop, err := s.StopDate()
		require.NoError(t, err)
		assert.True(t, clock.Now().Equal(stop))

		got, err := b.GetSubscription(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
	})

	t.Run("touch", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")
		assert.True(t, s.AccessedAt.IsZero())

		require.NoError(t, s.Touch(ctx))
		assert.False(t, s.AccessedAt.IsZero())
	})

	t.Run("get and delete", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		mustChannel(t, ctx, b, "bar")
		s1 := mustSubscribe(t, ctx, b, "foo", "john")
		s2 := mustSubscribe(t, ctx, b, "bar", "john")

		subs, err := b.GetSubscriptions(ctx, []int64{s1.ID, s2.ID})
		require.NoError(t, err)
		assert.Len(t, subs, 2)

		_, err = b.GetSubscriptions(ctx, []int64{s1.ID, 999999})
		require.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)
		_, err = b.GetSubscription(ctx, 999999)
		require.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)

		require.ErrorIs(t, b.DeleteSubscriptions(ctx, []int64{s1.ID, 999999}, false), apubsub.ErrSubscriptionDoesNotExist)
		_, err = b.GetSubscription(ctx, s1.ID)
		require.NoError(t, err, "failed batch must not delete anything")

		require.NoError(t, b.DeleteSubscriptions(ctx, []int64{s1.ID, 999999}, true))
		_, err = b.GetSubscription(ctx, s1.ID)
		require.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)

		require.NoError(t, s2.Delete(ctx))
		require.NoError(t, s2.Delete(ctx), "deleting twice is silent")
	})

	t.Run("subscription channel", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")

		c, err := s.Channel(ctx)
		require.NoError(t, err)
		assert.Equal(t, "foo", c.ID)
	})

	t.Run("fetch subscriptions", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")
		mustChannel(t, ctx, b, "bar")

		anonymous, err := c.Subscribe(ctx)
		require.NoError(t, err)
		clock.Advance(time.Second)
		john := mustSubscribe(t, ctx, b, "foo", "john")
		clock.Advance(time.Second)
		mustSubscribe(t, ctx, b, "bar", "john")

		cursor, err := c.FetchSubscriptions(nil)
		require.NoError(t, err)
		subs, err := cursor.Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, anonymous.ID, subs[0].ID)
		assert.Equal(t, john.ID, subs[1].ID)

		cursor, err = b.FetchSubscriptions(apubsub.Conditions{apubsub.FieldSubStatus: true})
		require.NoError(t, err)
		total, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		cursor, err = b.FetchSubscriptions(apubsub.Conditions{apubsub.FieldSubscriberName: nil})
		require.NoError(t, err)
		subs, err = cursor.Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, subs, 1)
		assert.Equal(t, anonymous.ID, subs[0].ID)

		cursor, err = b.FetchSubscriptions(nil)
		require.NoError(t, err)
		require.NoError(t, cursor.Update(ctx, apubsub.Values{apubsub.FieldSubStatus: false}))
		cursor, err = b.FetchSubscriptions(apubsub.Conditions{apubsub.FieldSubStatus: false})
		require.NoError(t, err)
		total, err = cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})

	t.Run("unsupported update", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		cursor, err := b.FetchSubscriptions(nil)
		require.NoError(t, err)
		err = cursor.Update(ctx, apubsub.Values{apubsub.FieldChannelID: "bar"})
		require.ErrorIs(t, err, apubsub.ErrUnsupportedUpdateField)
		err = cursor.Update(ctx, apubsub.Values{apubsub.FieldSubStatus: "yes"})
		require.ErrorIs(t, err, apubsub.ErrInvalidValue)
	})
}

func testSubscribers(t *testing.T, open Opener) {
	t.Run("lookups", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		mustChannel(t, ctx, b, "bar")
		s := mustSubscribe(t, ctx, b, "foo", "john")

		john := b.GetSubscriber("john")
		got, err := john.GetSubscriptionFor(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)

		_, err = john.GetSubscriptionFor(ctx, "bar")
		require.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)

		has, err := john.HasSubscriptionFor(ctx, "bar")
		require.NoError(t, err)
		assert.False(t, has)

		mustSubscribe(t, ctx, b, "bar", "john")
		subs, err := john.GetSubscriptions(ctx)
		require.NoError(t, err)
		assert.Len(t, subs, 2)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		mustSubscribe(t, ctx, b, "foo", "john")

		john := b.GetSubscriber("john")
		require.NoError(t, john.Unsubscribe(ctx, "foo"))
		has, err := john.HasSubscriptionFor(ctx, "foo")
		require.NoError(t, err)
		assert.False(t, has)
		require.NoError(t, john.Unsubscribe(ctx, "foo"), "missing subscription is silent")
	})

	t.Run("fetch subscribers", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		c := mustChannel(t, ctx, b, "foo")
		mustChannel(t, ctx, b, "bar")
		mustSubscribe(t, ctx, b, "foo", "zoe")
		mustSubscribe(t, ctx, b, "bar", "zoe")
		mustSubscribe(t, ctx, b, "foo", "adam")
		mustSubscribe(t, ctx, b, "bar", "eve")
		_, err := c.Subscribe(ctx)
		require.NoError(t, err)

		cursor, err := b.FetchSubscribers(nil)
		require.NoError(t, err)
		list, err := cursor.Fetch(ctx)
		require.NoError(t, err)
		names := make([]string, len(list))
		for i, s := range list {
			names[i] = s.Name
		}
		assert.Equal(t, []string{"adam", "eve", "zoe"}, names)

		cursor, err = b.FetchSubscribers(apubsub.Conditions{apubsub.FieldChannelID: "foo"})
		require.NoError(t, err)
		require.NoError(t, cursor.AddSort(apubsub.FieldSubscriberName, apubsub.Desc))
		require.NoError(t, cursor.SetLimit(1))
		list, err = cursor.Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "zoe", list[0].Name)
		total, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		require.ErrorIs(t, cursor.AddSort(apubsub.FieldSubID, apubsub.Asc), apubsub.ErrCursorAlreadyRun)

		cursor, err = b.FetchSubscribers(nil)
		require.NoError(t, err)
		require.ErrorIs(t, cursor.AddSort(apubsub.FieldSubID, apubsub.Asc), apubsub.ErrUnsupportedSortField)
		require.ErrorIs(t, cursor.Update(ctx, apubsub.Values{apubsub.FieldSubStatus: true}), apubsub.ErrUnsupportedOperation)
	})

	t.Run("delete subscriber", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		mustChannel(t, ctx, b, "bar")
		mustSubscribe(t, ctx, b, "foo", "zoe")
		mustSubscribe(t, ctx, b, "bar", "zoe")
		adam := mustSubscribe(t, ctx, b, "foo", "adam")

		require.NoError(t, b.GetSubscriber("zoe").Delete(ctx))
		subs, err := b.GetSubscriber("zoe").GetSubscriptions(ctx)
		require.NoError(t, err)
		assert.Empty(t, subs)

		cursor, err := b.FetchSubscribers(apubsub.Conditions{apubsub.FieldSubscriberName: "adam"})
		require.NoError(t, err)
		require.NoError(t, cursor.Delete(ctx))
		_, err = b.GetSubscription(ctx, adam.ID)
		require.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)
	})
}
