package janitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/backend/memory"
	"github.com/makinacorpus/apubsub-sub000/pkg/janitor"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestAddJob(t *testing.T) {
	j := janitor.New()
	noop := func(context.Context) error { return nil }

	require.NoError(t, j.AddJob("b", janitor.Every(time.Minute), noop))
	require.NoError(t, j.AddJob("a", janitor.Every(time.Minute), noop))
	assert.ErrorIs(t, j.AddJob("a", janitor.Every(time.Minute), noop), janitor.ErrJobAlreadyRegistered)
	assert.ErrorIs(t, j.AddJob("", janitor.Every(time.Minute), noop), janitor.ErrInvalidJob)
	assert.ErrorIs(t, j.AddJob("c", nil, noop), janitor.ErrInvalidJob)
	assert.ErrorIs(t, j.AddJob("c", janitor.Every(time.Minute), nil), janitor.ErrInvalidJob)
	assert.Equal(t, []string{"a", "b"}, j.Jobs())
}

func TestRunDue(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	j := janitor.New(janitor.WithClock(c.Now))

	var fast, slow int
	boom := errors.New("boom")
	require.NoError(t, j.AddJob("fast", janitor.Every(time.Minute), func(context.Context) error {
		fast++
		return nil
	}))
	require.NoError(t, j.AddJob("slow", janitor.Every(time.Hour), func(context.Context) error {
		slow++
		return boom
	}))

	ctx := context.Background()
	assert.Equal(t, 2, j.RunDue(ctx), "first runs are due immediately")
	assert.ErrorIs(t, j.LastError("slow"), boom)
	assert.NoError(t, j.LastError("fast"))

	assert.Zero(t, j.RunDue(ctx))

	c.now = c.now.Add(time.Minute)
	assert.Equal(t, 1, j.RunDue(ctx))
	assert.Equal(t, 2, fast)
	assert.Equal(t, 1, slow)

	c.now = c.now.Add(time.Hour)
	assert.Equal(t, 2, j.RunDue(ctx))
	assert.Equal(t, 2, slow, "a failed job is rescheduled")
}

func TestStart(t *testing.T) {
	t.Run("requires a job", func(t *testing.T) {
		assert.ErrorIs(t, janitor.New().Start(context.Background()), janitor.ErrNotConfigured)
	})

	t.Run("runs until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		ran := make(chan struct{}, 1)
		j := janitor.New(janitor.WithCheckInterval(time.Millisecond))
		require.NoError(t, j.AddJob("gc", janitor.Every(time.Hour), func(context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		}))

		done := make(chan error, 1)
		go func() { done <- j.Start(ctx) }()

		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("job did not run")
		}
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}

func TestBackendJobs(t *testing.T) {
	ctx := context.Background()
	b := memory.New(apubsub.WithDelayChecks(true))
	ch, err := b.CreateChannel(ctx, "news", "", false)
	require.NoError(t, err)
	sub, err := ch.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, sub.Activate(ctx))
	_, err = ch.Send(ctx, "hello")
	require.NoError(t, err)
	require.NoError(t, sub.Deactivate(ctx))

	before, err := b.Analysis(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, before.QueueSize, "delayed checks keep the backlog")

	j := janitor.New()
	require.NoError(t, j.AddJob("gc", janitor.Every(time.Minute), janitor.GarbageCollection(b)))
	require.NoError(t, j.AddJob("flush", janitor.Every(time.Minute), janitor.FlushCaches(b)))
	require.NoError(t, j.AddJob("analysis", janitor.Every(time.Minute), janitor.Analysis(b, nil)))
	assert.Equal(t, 3, j.RunDue(ctx))
	assert.NoError(t, j.LastError("gc"))
	assert.NoError(t, j.LastError("analysis"))

	after, err := b.Analysis(ctx)
	require.NoError(t, err)
	assert.Zero(t, after.QueueSize)
}
