// Package brokertest is the behavioral contract every apubsub backend must
// satisfy. Engine packages call Run from their own tests with an Opener
// returning a fresh, empty backend.
package brokertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// Opener returns a fresh, empty backend configured with opts.
type Opener func(t *testing.T, opts ...apubsub.Option) apubsub.Backend

// Clock is a manually advanced time source. Times are whole seconds in UTC
// so every engine stores them losslessly.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at a fixed date.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d).Truncate(time.Second)
}

// Run executes the whole contract against backends produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("Channels", func(t *testing.T) { testChannels(t, open) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, open) })
	t.Run("Subscribers", func(t *testing.T) { testSubscribers(t, open) })
	t.Run("Send", func(t *testing.T) { testSend(t, open) })
	t.Run("ReadState", func(t *testing.T) { testReadState(t, open) })
	t.Run("Cascade", func(t *testing.T) { testCascade(t, open) })
	t.Run("Cursor", func(t *testing.T) { testCursor(t, open) })
	t.Run("GarbageCollection", func(t *testing.T) { testGarbageCollection(t, open) })
	t.Run("Scenarios", func(t *testing.T) { testScenarios(t, open) })
}

// setup opens a backend with a manual clock and delayed checks, so retention
// never interferes with the assertions.
func setup(t *testing.T, open Opener, opts ...apubsub.Option) (context.Context, apubsub.Backend, *Clock) {
	t.Helper()
	clock := NewClock()
	base := []apubsub.Option{apubsub.WithClock(clock.Now), apubsub.WithDelayChecks(true)}
	b := open(t, append(base, opts...)...)
	return context.Background(), b, clock
}

func mustChannel(t *testing.T, ctx context.Context, b apubsub.Backend, id string) *apubsub.Channel {
	t.Helper()
	c, err := b.CreateChannel(ctx, id, "", false)
	require.NoError(t, err)
	return c
}

func mustSubscribe(t *testing.T, ctx context.Context, b apubsub.Backend, channelID, name string) *apubsub.Subscription {
	t.Helper()
	s, err := b.GetSubscriber(name).Subscribe(ctx, channelID)
	require.NoError(t, err)
	return s
}

func mustSend(t *testing.T, ctx context.Context, b apubsub.Backend, channelIDs []string, contents any, opts ...apubsub.SendOption) *apubsub.Message {
	t.Helper()
	m, err := b.Send(ctx, channelIDs, contents, opts...)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func fetch(t *testing.T, ctx context.Context, c apubsub.Cursor[*apubsub.Message], err error) []*apubsub.Message {
	t.Helper()
	require.NoError(t, err)
	items, err := c.Fetch(ctx)
	require.NoError(t, err)
	return items
}

func messageIDs(msgs []*apubsub.Message) []int64 {
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
