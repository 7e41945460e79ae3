package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/memory"
	"github.com/makinacorpus/apubsub-sub000/brokertest"
)

func TestContract(t *testing.T) {
	brokertest.Run(t, func(t *testing.T, opts ...apubsub.Option) apubsub.Backend {
		return memory.New(opts...)
	})
}

func TestContractMsgpack(t *testing.T) {
	brokertest.Run(t, func(t *testing.T, opts ...apubsub.Option) apubsub.Backend {
		return memory.New(append(opts, apubsub.WithCodec(apubsub.MsgpackCodec{}))...)
	})
}

func TestConsumeOnFetch(t *testing.T) {
	ctx := context.Background()
	b := memory.NewWithConfig(memory.Config{ConsumeOnFetch: true}, apubsub.WithDelayChecks(true))

	_, err := b.CreateChannel(ctx, "foo", "", false)
	require.NoError(t, err)
	john, err := b.GetSubscriber("john").Subscribe(ctx, "foo")
	require.NoError(t, err)
	doe, err := b.GetSubscriber("doe").Subscribe(ctx, "foo")
	require.NoError(t, err)

	sent, err := b.Send(ctx, []string{"foo"}, "hello")
	require.NoError(t, err)

	cursor, err := john.Fetch(nil)
	require.NoError(t, err)
	msgs, err := cursor.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	cursor, err = john.Fetch(nil)
	require.NoError(t, err)
	msgs, err = cursor.Fetch(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs, "entries are consumed")

	_, err = b.GetMessage(ctx, sent.ID)
	require.NoError(t, err, "still queued for doe")

	cursor, err = doe.Fetch(nil)
	require.NoError(t, err)
	msgs, err = cursor.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = b.GetMessage(ctx, sent.ID)
	require.ErrorIs(t, err, apubsub.ErrMessageDoesNotExist)
}

func TestRegistryFactory(t *testing.T) {
	r := apubsub.NewRegistry()
	r.MustRegister(memory.Engine, memory.Factory(memory.Config{}))

	b, err := r.Open(context.Background(), memory.Engine)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)
}

func TestAnalysis(t *testing.T) {
	ctx := context.Background()
	b := memory.New(apubsub.WithDelayChecks(true))
	_, err := b.CreateChannels(ctx, []string{"a", "b"}, false)
	require.NoError(t, err)
	for _, ch := range []string{"a", "b"} {
		_, err = b.GetSubscriber("john").Subscribe(ctx, ch)
		require.NoError(t, err)
	}
	_, err = b.GetSubscriber("doe").Subscribe(ctx, "a")
	require.NoError(t, err)
	_, err = b.Send(ctx, []string{"a", "b"}, "x")
	require.NoError(t, err)

	a, err := b.Analysis(ctx)
	require.NoError(t, err)
	assert.Equal(t, apubsub.Analysis{
		Channels:      2,
		Messages:      1,
		Subscriptions: 3,
		Subscribers:   2,
		QueueSize:     3,
	}, a)
}

func TestExpireMessagesDropsQueueEntries(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := memory.New(apubsub.WithDelayChecks(true), apubsub.WithClock(func() time.Time { return at }))
	_, err := b.CreateChannel(ctx, "foo", "", false)
	require.NoError(t, err)
	_, err = b.GetSubscriber("john").Subscribe(ctx, "foo")
	require.NoError(t, err)
	_, err = b.Send(ctx, []string{"foo"}, "old")
	require.NoError(t, err)
	fresh, err := b.Send(ctx, []string{"foo"}, "fresh", apubsub.WithSentAt(at.Add(time.Hour)))
	require.NoError(t, err)

	n, err := b.ExpireMessages(ctx, at.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	a, err := b.Analysis(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.Messages)
	assert.EqualValues(t, 1, a.QueueSize, "entries of expired messages go with them")

	cursor, err := b.GetSubscriber("john").Fetch(nil)
	require.NoError(t, err)
	msgs, err := cursor.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, fresh.ID, msgs[0].ID)
}
