package apubsub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

// Sweeper is implemented by engines; each method is one retention pass and
// returns the number of rows it removed. Every pass must be idempotent.
type Sweeper interface {
	// SweepInactive deletes queue entries of inactive subscriptions.
	SweepInactive(ctx context.Context) (int64, error)
	// TrimQueue finds the maxSize-th most recent queue entry by message
	// recency and deletes every entry older than it. Approximate: entries
	// sharing the boundary message survive.
	TrimQueue(ctx context.Context, maxSize int) (int64, error)
	// ExpireMessages deletes messages sent before the given time.
	ExpireMessages(ctx context.Context, before time.Time) (int64, error)
	// SweepOrphans deletes queue entries without a message and messages
	// without any queue entry.
	SweepOrphans(ctx context.Context) (int64, error)
}

// GCReport summarizes one collection run.
type GCReport struct {
	Inactive int64
	Trimmed  int64
	Expired  int64
	Orphans  int64
	Duration time.Duration
}

// Collector runs the retention passes enabled in GCConfig, then the orphan
// sweep.
type Collector struct {
	engine  string
	sweeper Sweeper
	cfg     GCConfig
	now     func() time.Time
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCollector builds the collector for an engine.
func NewCollector(engine string, s Sweeper, o Options) *Collector {
	return &Collector{
		engine:  engine,
		sweeper: s,
		cfg:     o.GC,
		now:     o.Now,
		logger:  o.Logger.With(logger.Component("gc"), logger.Engine(engine)),
	}
}

// Config returns the pass configuration.
func (c *Collector) Config() GCConfig { return c.cfg }

// Run executes the enabled passes. Concurrent calls on the same collector
// share a single run.
func (c *Collector) Run(ctx context.Context) (GCReport, error) {
	v, err, _ := c.group.Do("gc", func() (any, error) {
		return c.run(ctx)
	})
	report, _ := v.(GCReport)
	return report, err
}

func (c *Collector) run(ctx context.Context) (GCReport, error) {
	var (
		report GCReport
		err    error
	)
	start := c.now()

	if c.cfg.SweepInactive {
		if report.Inactive, err = c.sweeper.SweepInactive(ctx); err != nil {
			return report, fmt.Errorf("gc inactive sweep: %w", err)
		}
	}
	if c.cfg.QueueMaxSize > 0 {
		if report.Trimmed, err = c.sweeper.TrimQueue(ctx, c.cfg.QueueMaxSize); err != nil {
			return report, fmt.Errorf("gc queue trim: %w", err)
		}
	}
	if c.cfg.MessageMaxLifetime > 0 {
		if report.Expired, err = c.sweeper.ExpireMessages(ctx, start.Add(-c.cfg.MessageMaxLifetime)); err != nil {
			return report, fmt.Errorf("gc message expiry: %w", err)
		}
	}
	// orphans are swept on every run
	if report.Orphans, err = c.sweeper.SweepOrphans(ctx); err != nil {
		return report, fmt.Errorf("gc orphan sweep: %w", err)
	}

	report.Duration = c.now().Sub(start)
	c.logger.LogAttrs(ctx, slog.LevelDebug, "garbage collection done",
		slog.Int64("inactive", report.Inactive),
		slog.Int64("trimmed", report.Trimmed),
		slog.Int64("expired", report.Expired),
		slog.Int64("orphans", report.Orphans),
		logger.Duration(report.Duration),
	)
	return report, nil
}

// AfterSend runs a collection unless checks are delayed. Failures are
// logged: retention never affects delivery.
func (c *Collector) AfterSend(ctx context.Context) {
	if c.cfg.DelayChecks {
		return
	}
	if _, err := c.Run(ctx); err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "garbage collection after send failed", logger.Error(err))
	}
}
