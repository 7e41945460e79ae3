// Package redisdb is the key/value apubsub engine, on Redis through
// go-redis/v9. Records are MessagePack encoded; set indexes replace foreign
// keys. Every write runs in a WATCH/MULTI block over a revision key, retried
// a bounded number of times before failing with ErrTransientConflict.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	pkgredis "github.com/makinacorpus/apubsub-sub000/pkg/redis"
)

// Engine is the registry tag of this backend.
const Engine = "redis"

// Config holds engine specific settings.
type Config struct {
	KeyPrefix  string `env:"APUBSUB_REDIS_PREFIX" envDefault:"apb"`     // KeyPrefix namespaces every key.
	MaxRetries int    `env:"APUBSUB_REDIS_MAX_RETRIES" envDefault:"10"` // MaxRetries bounds optimistic transaction attempts.
}

// Backend implements apubsub.Backend on Redis.
type Backend struct {
	client    redis.UniversalClient
	cfg       Config
	opts      apubsub.Options
	logger    *slog.Logger
	collector *apubsub.Collector
}

var _ apubsub.Backend = (*Backend)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, cfg Config, opts ...apubsub.Option) *Backend {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "apb"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	o := apubsub.NewOptions(opts...)
	b := &Backend{
		client: client,
		cfg:    cfg,
		opts:   o,
		logger: o.Logger.With(logger.Engine(Engine)),
	}
	b.collector = apubsub.NewCollector(Engine, b, o)
	return b
}

// Factory returns a registry factory connecting to Redis.
func Factory(conn pkgredis.Config, cfg Config) apubsub.Factory {
	return func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		client, err := pkgredis.Connect(ctx, conn)
		if err != nil {
			return nil, err
		}
		return New(client, cfg, opts...), nil
	}
}

// Client returns the underlying client.
func (b *Backend) Client() redis.UniversalClient { return b.client }

// Purge deletes every key of this backend.
func (b *Backend) Purge(ctx context.Context) error {
	_, err := pkgredis.DeleteKeys(ctx, b.client, b.cfg.KeyPrefix+":*", 0)
	return err
}

func (b *Backend) key(parts ...string) string {
	k := b.cfg.KeyPrefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func id(n int64) string { return strconv.FormatInt(n, 10) }

func (b *Backend) revKey() string { return b.key("rev") }
func (b *Backend) seqKey(name string) string { return b.key("seq", name) }
func (b *Backend) chansKey() string { return b.key("chans") }
func (b *Backend) chanKey(ch string) string { return b.key("chan", ch) }
func (b *Backend) chanSubsKey(ch string) string { return b.key("chansubs", ch) }
func (b *Backend) chanMsgsKey(ch string) string { return b.key("chanmsgs", ch) }
func (b *Backend) subsKey() string { return b.key("subs") }
func (b *Backend) subKey(n int64) string { return b.key("sub", id(n)) }
func (b *Backend) subQueueKey(n int64) string { return b.key("subqueue", id(n)) }
func (b *Backend) subscriberKey(name string) string { return b.key("subscriber", name) }
func (b *Backend) msgsKey() string { return b.key("msgs") }
func (b *Backend) msgKey(n int64) string { return b.key("msg", id(n)) }
func (b *Backend) msgQueueKey(n int64) string { return b.key("msgqueue", id(n)) }
func (b *Backend) queuesKey() string { return b.key("queues") }
func (b *Backend) queueKey(n int64) string { return b.key("queue", id(n)) }

// reader is what loaders need; *redis.Client and *redis.Tx both provide it.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HVals(ctx context.Context, key string) *redis.StringSliceCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
}

// atomically runs fn against a watched connection and commits the writes it
// returns in one MULTI block. A nil write function commits nothing.
func (b *Backend) atomically(ctx context.Context, fn func(tx *redis.Tx) (func(redis.Pipeliner) error, error)) error {
	rev := b.revKey()
	for attempt := range b.cfg.MaxRetries {
		err := b.client.Watch(ctx, func(tx *redis.Tx) error {
			write, err := fn(tx)
			if err != nil || write == nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Incr(ctx, rev)
				return write(p)
			})
			return err
		}, rev)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		b.logger.LogAttrs(ctx, slog.LevelDebug, "optimistic transaction conflict", logger.RetryCount(attempt+1))
	}
	return fmt.Errorf("%w: %d attempts", apubsub.ErrTransientConflict, b.cfg.MaxRetries)
}

// reserve allocates n consecutive identifiers and returns the first one.
func (b *Backend) reserve(ctx context.Context, r reader, seq string, n int64) (int64, error) {
	last, err := r.IncrBy(ctx, b.seqKey(seq), n).Result()
	if err != nil {
		return 0, fmt.Errorf("redis reserve %s ids: %w", seq, err)
	}
	return last - n + 1, nil
}

func (b *Backend) FlushCaches() {}

func (b *Backend) GarbageCollection(ctx context.Context) error {
	_, err := b.collector.Run(ctx)
	return err
}

func (b *Backend) Analysis(ctx context.Context) (apubsub.Analysis, error) {
	var a apubsub.Analysis
	pipe := b.client.Pipeline()
	chans := pipe.SCard(ctx, b.chansKey())
	msgs := pipe.SCard(ctx, b.msgsKey())
	subs := pipe.SCard(ctx, b.subsKey())
	queue := pipe.SCard(ctx, b.queuesKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return a, fmt.Errorf("redis analysis: %w", err)
	}
	names, err := pkgredis.ScanKeys(ctx, b.client, b.subscriberKey("*"), 0)
	if err != nil {
		return a, fmt.Errorf("redis analysis: %w", err)
	}
	a.Channels = chans.Val()
	a.Messages = msgs.Val()
	a.Subscriptions = subs.Val()
	a.QueueSize = queue.Val()
	a.Subscribers = int64(len(names))
	return a, nil
}
