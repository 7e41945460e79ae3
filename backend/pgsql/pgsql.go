// Package pgsql is the relational apubsub engine, on PostgreSQL through
// pgx/v5. Cursor queries are built with goqu; fixed statements are plain SQL.
//
// Channels and subscriptions are kept in per-instance identity maps. They
// never serve existence checks, and are invalidated on deletion, on mass
// update and on FlushCaches.
package pgsql

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/identitymap"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
)

// Engine is the registry tag of this backend.
const Engine = "pgsql"

//go:embed migrations/*.sql
var migrations embed.FS

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Backend implements apubsub.Backend on PostgreSQL.
type Backend struct {
	pool      *pgxpool.Pool
	opts      apubsub.Options
	logger    *slog.Logger
	collector *apubsub.Collector

	channels      *identitymap.Map[string, apubsub.ChannelData]
	subscriptions *identitymap.Map[int64, apubsub.SubscriptionData]
}

var _ apubsub.Backend = (*Backend)(nil)

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool, opts ...apubsub.Option) *Backend {
	o := apubsub.NewOptions(opts...)
	b := &Backend{
		pool:          pool,
		opts:          o,
		logger:        o.Logger.With(logger.Engine(Engine)),
		channels:      identitymap.New[string, apubsub.ChannelData](o.CacheSize),
		subscriptions: identitymap.New[int64, apubsub.SubscriptionData](o.CacheSize),
	}
	b.collector = apubsub.NewCollector(Engine, b, o)
	return b
}

// Migrate applies the schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, migrations, "migrations", cfg, log)
}

// Open connects, migrates and returns a backend owning the pool.
func Open(ctx context.Context, cfg pg.Config, opts ...apubsub.Option) (*Backend, error) {
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := New(pool, opts...)
	if err := Migrate(ctx, pool, cfg, b.logger); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Factory returns a registry factory opening PostgreSQL backends.
func Factory(cfg pg.Config) apubsub.Factory {
	return func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		return Open(ctx, cfg, opts...)
	}
}

// Pool returns the underlying pool.
func (b *Backend) Pool() *pgxpool.Pool { return b.pool }

// Close closes the pool.
func (b *Backend) Close() { b.pool.Close() }

func (b *Backend) tx(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, b.pool, fn)
}

func (b *Backend) FlushCaches() {
	b.channels.Flush()
	b.subscriptions.Flush()
}

func (b *Backend) GarbageCollection(ctx context.Context) error {
	_, err := b.collector.Run(ctx)
	return err
}

func (b *Backend) Analysis(ctx context.Context) (apubsub.Analysis, error) {
	var a apubsub.Analysis
	err := b.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM apb_chan),
			(SELECT count(*) FROM apb_msg),
			(SELECT count(*) FROM apb_sub),
			(SELECT count(DISTINCT subscriber) FROM apb_sub),
			(SELECT count(*) FROM apb_queue)`,
	).Scan(&a.Channels, &a.Messages, &a.Subscriptions, &a.Subscribers, &a.QueueSize)
	if err != nil {
		return a, fmt.Errorf("pgsql analysis: %w", err)
	}
	a.Cached = b.channels.Len() + b.subscriptions.Len()
	return a, nil
}
