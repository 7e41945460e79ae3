package apubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/memory"
)

func TestSubscriptionDates(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	active := apubsub.NewSubscription(nil, apubsub.SubscriptionData{ID: 1, Active: true, ActivatedAt: at})
	start, err := active.StartDate()
	require.NoError(t, err)
	assert.Equal(t, at, start)
	_, err = active.StopDate()
	assert.ErrorIs(t, err, apubsub.ErrInvalidState)

	inactive := apubsub.NewSubscription(nil, apubsub.SubscriptionData{ID: 2, DeactivatedAt: at})
	stop, err := inactive.StopDate()
	require.NoError(t, err)
	assert.Equal(t, at, stop)
	_, err = inactive.StartDate()
	assert.ErrorIs(t, err, apubsub.ErrInvalidState)
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := memory.New(apubsub.WithClock(func() time.Time { return now }))

	ch, err := b.CreateChannel(ctx, "news", "News", false)
	require.NoError(t, err)

	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	assert.False(t, sub.Active, "channel subscriptions start inactive")

	now = now.Add(time.Minute)
	require.NoError(t, sub.Activate(ctx))
	assert.True(t, sub.Active)
	start, err := sub.StartDate()
	require.NoError(t, err)
	assert.Equal(t, now, start)

	now = now.Add(time.Minute)
	require.NoError(t, sub.Deactivate(ctx))
	stop, err := sub.StopDate()
	require.NoError(t, err)
	assert.Equal(t, now, stop)

	got, err := sub.Channel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "News", got.Title)

	require.NoError(t, sub.Delete(ctx))
	_, err = b.GetSubscription(ctx, sub.ID)
	assert.ErrorIs(t, err, apubsub.ErrSubscriptionDoesNotExist)
}

func TestSubscriberSubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	b := memory.New()
	_, err := b.CreateChannel(ctx, "news", "", false)
	require.NoError(t, err)

	alice := b.GetSubscriber("alice")
	first, err := alice.Subscribe(ctx, "news")
	require.NoError(t, err)
	assert.True(t, first.Active)

	second, err := alice.Subscribe(ctx, "news")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	ok, err := alice.HasSubscriptionFor(ctx, "news")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, alice.Unsubscribe(ctx, "news"))
	require.NoError(t, alice.Unsubscribe(ctx, "news"))
	ok, err = alice.HasSubscriptionFor(ctx, "news")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageSetUnreadRequiresQueue(t *testing.T) {
	ctx := context.Background()
	// the message has no recipient, collection would remove it
	b := memory.New(apubsub.WithDelayChecks(true))
	_, err := b.CreateChannel(ctx, "news", "", false)
	require.NoError(t, err)
	m, err := b.Send(ctx, []string{"news"}, "hello")
	require.NoError(t, err)

	loaded, err := b.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, loaded.SetUnread(ctx, false), apubsub.ErrInvalidState)
	assert.ErrorIs(t, loaded.Delete(ctx), apubsub.ErrInvalidState)
}

func TestSubscriberRequiresName(t *testing.T) {
	ctx := context.Background()
	b := memory.New(apubsub.WithDelayChecks(true))
	ch, err := b.CreateChannel(ctx, "news", "", false)
	require.NoError(t, err)
	anonymous, err := ch.Subscribe(ctx)
	require.NoError(t, err)

	nobody := b.GetSubscriber("")
	_, err = nobody.Subscribe(ctx, "news")
	assert.ErrorIs(t, err, apubsub.ErrInvalidValue)
	_, err = nobody.GetSubscriptionFor(ctx, "news")
	assert.ErrorIs(t, err, apubsub.ErrInvalidValue)
	_, err = nobody.GetSubscriptions(ctx)
	assert.ErrorIs(t, err, apubsub.ErrInvalidValue)
	_, err = nobody.Fetch(nil)
	assert.ErrorIs(t, err, apubsub.ErrInvalidValue)

	subs, err := ch.FetchSubscriptions(nil)
	require.NoError(t, err)
	all, err := subs.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "no subscription was created")
	assert.Equal(t, anonymous.ID, all[0].ID)
	assert.False(t, all[0].Active)
}
