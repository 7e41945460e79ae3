package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

// Job is one unit of periodic maintenance.
type Job func(ctx context.Context) error

// Janitor runs maintenance jobs on their schedules. Jobs run sequentially;
// a slow job delays the others rather than overlapping with itself.
type Janitor struct {
	mu       sync.Mutex
	jobs     map[string]*job
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type job struct {
	name     string
	schedule Schedule
	run      Job
	next     time.Time
	lastErr  error
}

// New creates a janitor without jobs.
func New(opts ...Option) *Janitor {
	o := &options{
		checkInterval: 10 * time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Janitor{
		jobs:     make(map[string]*job),
		interval: o.checkInterval,
		logger:   o.logger.With(logger.Component("janitor")),
		now:      o.now,
	}
}

// AddJob registers a job. Its first run is due immediately.
func (j *Janitor) AddJob(name string, schedule Schedule, run Job) error {
	if name == "" || schedule == nil || run == nil {
		return fmt.Errorf("%w: %q", ErrInvalidJob, name)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}
	j.jobs[name] = &job{name: name, schedule: schedule, run: run}
	j.logger.Info("registered janitor job",
		slog.String("job", name),
		slog.String("schedule", schedule.String()))
	return nil
}

// Jobs lists registered job names in lexical order.
func (j *Janitor) Jobs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.jobs))
	for name := range j.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start runs due jobs until ctx is done.
func (j *Janitor) Start(ctx context.Context) error {
	if len(j.Jobs()) == 0 {
		return ErrNotConfigured
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunDue(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			j.RunDue(ctx)
		}
	}
}

// RunDue runs every job whose next run is not in the future and returns
// how many ran. Failures are logged and the job is rescheduled normally.
func (j *Janitor) RunDue(ctx context.Context) int {
	now := j.now()

	j.mu.Lock()
	due := make([]*job, 0, len(j.jobs))
	for _, jb := range j.jobs {
		if !jb.next.After(now) {
			due = append(due, jb)
		}
	}
	j.mu.Unlock()
	slices.SortFunc(due, func(a, b *job) int { return strings.Compare(a.name, b.name) })

	for _, jb := range due {
		if ctx.Err() != nil {
			break
		}
		start := j.now()
		err := jb.run(ctx)
		attrs := []slog.Attr{slog.String("job", jb.name), logger.Duration(j.now().Sub(start))}

		j.mu.Lock()
		jb.lastErr = err
		jb.next = jb.schedule.Next(now)
		attrs = append(attrs, slog.Time("next_run", jb.next))
		j.mu.Unlock()

		if err != nil {
			j.logger.LogAttrs(ctx, slog.LevelError, "janitor job failed", append(attrs, logger.Error(err))...)
			continue
		}
		j.logger.LogAttrs(ctx, slog.LevelDebug, "janitor job done", attrs...)
	}
	return len(due)
}

// LastError returns the error of the latest run of the named job.
func (j *Janitor) LastError(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if jb, ok := j.jobs[name]; ok {
		return jb.lastErr
	}
	return nil
}

// GarbageCollection is the job running the retention passes of b.
func GarbageCollection(b apubsub.Backend) Job {
	return b.GarbageCollection
}

// FlushCaches is the job dropping the identity caches of b.
func FlushCaches(b apubsub.Backend) Job {
	return func(context.Context) error {
		b.FlushCaches()
		return nil
	}
}

// Analysis is the job logging the counters of b. A nil logger means
// slog.Default.
func Analysis(b apubsub.Backend, l *slog.Logger) Job {
	if l == nil {
		l = slog.Default()
	}
	return func(ctx context.Context) error {
		a, err := b.Analysis(ctx)
		if err != nil {
			return err
		}
		l.LogAttrs(ctx, slog.LevelInfo, "broker analysis",
			slog.Int64("channels", a.Channels),
			slog.Int64("messages", a.Messages),
			slog.Int64("subscriptions", a.Subscriptions),
			slog.Int64("subscribers", a.Subscribers),
			slog.Int64("queue_size", a.QueueSize),
			slog.Int("cached", a.Cached),
		)
		return nil
	}
}
