// Package mongodb is the document apubsub engine, on MongoDB through the
// official v2 driver. Queue entries carry a copy of the immutable message
// and subscription attributes so that message cursors run as plain finds.
//
// Multi-document writes run in a transaction when Config.Transactions is
// set, which needs a replica set. Without it, writes are applied in order
// and mass mutations still key on materialized identifier lists.
package mongodb

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/identitymap"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

// Engine is the registry tag of this backend.
const Engine = "mongodb"

// Collection names.
const (
	channelCollection      = "apb_chan"
	subscriptionCollection = "apb_sub"
	messageCollection      = "apb_msg"
	queueCollection        = "apb_queue"
	counterCollection      = "apb_counter"
)

// Config holds engine specific settings.
type Config struct {
	// Transactions wraps multi-document writes in a transaction.
	Transactions bool `env:"APUBSUB_MONGODB_TRANSACTIONS" envDefault:"true"`
}

// Backend implements apubsub.Backend on MongoDB.
type Backend struct {
	db        *mongo.Database
	cfg       Config
	opts      apubsub.Options
	logger    *slog.Logger
	collector *apubsub.Collector

	chans    *mongo.Collection
	subs     *mongo.Collection
	msgs     *mongo.Collection
	queue    *mongo.Collection
	counters *mongo.Collection

	channels      *identitymap.Map[string, apubsub.ChannelData]
	subscriptions *identitymap.Map[int64, apubsub.SubscriptionData]
}

var _ apubsub.Backend = (*Backend)(nil)

// New wraps an existing database. Indexes must already exist, see EnsureIndexes.
func New(db *mongo.Database, cfg Config, opts ...apubsub.Option) *Backend {
	o := apubsub.NewOptions(opts...)
	b := &Backend{
		db:            db,
		cfg:           cfg,
		opts:          o,
		logger:        o.Logger.With(logger.Engine(Engine)),
		chans:         db.Collection(channelCollection),
		subs:          db.Collection(subscriptionCollection),
		msgs:          db.Collection(messageCollection),
		queue:         db.Collection(queueCollection),
		counters:      db.Collection(counterCollection),
		channels:      identitymap.New[string, apubsub.ChannelData](o.CacheSize),
		subscriptions: identitymap.New[int64, apubsub.SubscriptionData](o.CacheSize),
	}
	b.collector = apubsub.NewCollector(Engine, b, o)
	return b
}

// EnsureIndexes creates the indexes the engine relies on. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		subscriptionCollection: {
			{Keys: bson.D{{Key: "chan_id", Value: 1}}},
			{
				Keys: bson.D{{Key: "subscriber", Value: 1}, {Key: "chan_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "subscriber", Value: bson.D{{Key: "$exists", Value: true}}}}),
			},
		},
		messageCollection: {
			{Keys: bson.D{{Key: "chan_ids", Value: 1}}},
			{Keys: bson.D{{Key: "sent_at", Value: 1}}},
		},
		queueCollection: {
			{Keys: bson.D{{Key: "msg_id", Value: 1}, {Key: "sub_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "sub_id", Value: 1}}},
			{Keys: bson.D{{Key: "chan_id", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongodb create %s indexes: %w", name, err)
		}
	}
	return nil
}

// Open connects, ensures indexes and returns a backend owning the client.
func Open(ctx context.Context, conn pkgmongo.Config, cfg Config, opts ...apubsub.Option) (*Backend, error) {
	db, err := pkgmongo.NewWithDatabase(ctx, conn)
	if err != nil {
		return nil, err
	}
	if err := EnsureIndexes(ctx, db); err != nil {
		_ = db.Client().Disconnect(ctx)
		return nil, err
	}
	return New(db, cfg, opts...), nil
}

// Factory returns a registry factory opening MongoDB backends.
func Factory(conn pkgmongo.Config, cfg Config) apubsub.Factory {
	return func(ctx context.Context, opts ...apubsub.Option) (apubsub.Backend, error) {
		return Open(ctx, conn, cfg, opts...)
	}
}

// Database returns the underlying database.
func (b *Backend) Database() *mongo.Database { return b.db }

// Close disconnects the client.
func (b *Backend) Close(ctx context.Context) error {
	return b.db.Client().Disconnect(ctx)
}

// atomically runs fn in a transaction when enabled. fn must use the
// context it receives.
func (b *Backend) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.cfg.Transactions {
		return fn(ctx)
	}
	sess, err := b.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("mongodb start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

type counter struct {
	Seq int64 `bson:"seq"`
}

// reserve allocates n consecutive identifiers and returns the first one.
func (b *Backend) reserve(ctx context.Context, name string, n int64) (int64, error) {
	var c counter
	err := b.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: n}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("mongodb reserve %s ids: %w", name, err)
	}
	return c.Seq - n + 1, nil
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
	counts := []struct {
		coll *mongo.Collection
		dst  *int64
	}{
		{b.chans, &a.Channels},
		{b.msgs, &a.Messages},
		{b.subs, &a.Subscriptions},
		{b.queue, &a.QueueSize},
	}
	for _, c := range counts {
		n, err := c.coll.CountDocuments(ctx, bson.D{})
		if err != nil {
			return a, fmt.Errorf("mongodb analysis: %w", err)
		}
		*c.dst = n
	}
	var names []string
	res := b.subs.Distinct(ctx, "subscriber", bson.D{{Key: "subscriber", Value: bson.D{{Key: "$ne", Value: nil}}}})
	if err := res.Decode(&names); err != nil {
		return a, fmt.Errorf("mongodb analysis: %w", err)
	}
	a.Subscribers = int64(len(names))
	a.Cached = b.channels.Len() + b.subscriptions.Len()
	return a, nil
}
