package apubsub_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

type fakeSweeper struct {
	mu      sync.Mutex
	calls   []string
	trimArg int
	before  time.Time
	fail    string
	block   chan struct{}
}

func (s *fakeSweeper) record(name string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	if s.fail == name {
		return errors.New("boom")
	}
	return nil
}

func (s *fakeSweeper) SweepInactive(context.Context) (int64, error) {
	return 1, s.record("inactive")
}

func (s *fakeSweeper) TrimQueue(_ context.Context, maxSize int) (int64, error) {
	s.trimArg = maxSize
	return 2, s.record("trim")
}

func (s *fakeSweeper) ExpireMessages(_ context.Context, before time.Time) (int64, error) {
	s.before = before
	return 3, s.record("expire")
}

func (s *fakeSweeper) SweepOrphans(context.Context) (int64, error) {
	return 4, s.record("orphans")
}

func fixedClock(at time.Time) apubsub.Option {
	return apubsub.WithClock(func() time.Time { return at })
}

func TestCollectorRun(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("defaults sweep inactive and orphans", func(t *testing.T) {
		s := &fakeSweeper{}
		c := apubsub.NewCollector("fake", s, apubsub.NewOptions(fixedClock(now)))
		report, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"inactive", "orphans"}, s.calls)
		assert.EqualValues(t, 1, report.Inactive)
		assert.Zero(t, report.Trimmed)
		assert.Zero(t, report.Expired)
		assert.EqualValues(t, 4, report.Orphans)
	})

	t.Run("orphans are swept without a lifetime", func(t *testing.T) {
		s := &fakeSweeper{}
		c := apubsub.NewCollector("fake", s, apubsub.NewOptions(
			fixedClock(now),
			apubsub.WithQueueMaxSize(10),
		))
		_, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"inactive", "trim", "orphans"}, s.calls)
	})

	t.Run("every pass in order", func(t *testing.T) {
		s := &fakeSweeper{}
		c := apubsub.NewCollector("fake", s, apubsub.NewOptions(
			fixedClock(now),
			apubsub.WithQueueMaxSize(10),
			apubsub.WithMessageMaxLifetime(time.Hour),
		))
		report, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"inactive", "trim", "expire", "orphans"}, s.calls)
		assert.Equal(t, 10, s.trimArg)
		assert.Equal(t, now.Add(-time.Hour), s.before)
		assert.Equal(t, apubsub.GCReport{Inactive: 1, Trimmed: 2, Expired: 3, Orphans: 4}, report)
	})

	t.Run("failure stops the run", func(t *testing.T) {
		s := &fakeSweeper{fail: "trim"}
		c := apubsub.NewCollector("fake", s, apubsub.NewOptions(
			apubsub.WithQueueMaxSize(10),
			apubsub.WithMessageMaxLifetime(time.Hour),
		))
		_, err := c.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gc queue trim")
		assert.Equal(t, []string{"inactive", "trim"}, s.calls)
	})

	t.Run("concurrent runs are shared", func(t *testing.T) {
		s := &fakeSweeper{block: make(chan struct{})}
		c := apubsub.NewCollector("fake", s, apubsub.NewOptions())

		var wg sync.WaitGroup
		started := make(chan struct{})
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				started <- struct{}{}
				_, _ = c.Run(context.Background())
			}()
		}
		<-started
		<-started
		time.Sleep(20 * time.Millisecond)
		close(s.block)
		wg.Wait()
		assert.LessOrEqual(t, len(s.calls), 4)
		assert.NotEmpty(t, s.calls)
	})
}

func TestCollectorAfterSend(t *testing.T) {
	t.Run("runs by default", func(t *testing.T) {
		s := &fakeSweeper{}
		apubsub.NewCollector("fake", s, apubsub.NewOptions()).AfterSend(context.Background())
		assert.Equal(t, []string{"inactive", "orphans"}, s.calls)
	})

	t.Run("skipped when checks are delayed", func(t *testing.T) {
		s := &fakeSweeper{}
		apubsub.NewCollector("fake", s, apubsub.NewOptions(apubsub.WithDelayChecks(true))).AfterSend(context.Background())
		assert.Empty(t, s.calls)
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		s := &fakeSweeper{fail: "inactive"}
		assert.NotPanics(t, func() {
			apubsub.NewCollector("fake", s, apubsub.NewOptions()).AfterSend(context.Background())
		})
	})
}
