package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// matching materializes the identifiers matching q.
func matching[K any](ctx context.Context, coll *mongo.Collection, q apubsub.Query) ([]K, error) {
	f, err := filter(q)
	if err != nil {
		return nil, err
	}
	return idsOf[K](ctx, coll, f)
}

type channelRunner struct{ b *Backend }

func (r channelRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Channel, error) {
	docs, err := find[channelDoc](ctx, r.b.chans, q)
	if err != nil {
		return nil, err
	}
	out := make([]*apubsub.Channel, len(docs))
	for i, d := range docs {
		out[i] = r.b.channel(d.data())
	}
	return out, nil
}

func (r channelRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return count(ctx, r.b.chans, q)
}

func (r channelRunner) Delete(ctx context.Context, q apubsub.Query) error {
	defer r.b.FlushCaches()
	return r.b.atomically(ctx, func(ctx context.Context) error {
		chanIDs, err := matching[string](ctx, r.b.chans, q)
		if err != nil {
			return err
		}
		return r.b.deleteChannels(ctx, chanIDs)
	})
}

func (r channelRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	title, ok := values[apubsub.FieldChanTitle].(string)
	if !ok {
		return nil
	}
	defer r.b.channels.Flush()
	return r.b.atomically(ctx, func(ctx context.Context) error {
		chanIDs, err := matching[string](ctx, r.b.chans, q)
		if err != nil || len(chanIDs) == 0 {
			return err
		}
		_, err = r.b.chans.UpdateMany(ctx, in("_id", chanIDs), bson.D{{Key: "$set", Value: bson.D{
			{Key: "title", Value: title},
			{Key: "updated_at", Value: r.b.opts.Now()},
		}}})
		if err != nil {
			return fmt.Errorf("mongodb update channels: %w", err)
		}
		return nil
	})
}

type subscriptionRunner struct{ b *Backend }

func (r subscriptionRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Subscription, error) {
	docs, err := find[subscriptionDoc](ctx, r.b.subs, q)
	if err != nil {
		return nil, err
	}
	out := make([]*apubsub.Subscription, len(docs))
	for i, d := range docs {
		out[i] = r.b.subscription(d.data())
	}
	return out, nil
}

func (r subscriptionRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return count(ctx, r.b.subs, q)
}

func (r subscriptionRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(ctx context.Context) error {
		subIDs, err := matching[int64](ctx, r.b.subs, q)
		if err != nil {
			return err
		}
		return r.b.deleteSubscriptions(ctx, subIDs)
	})
}

func (r subscriptionRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	var subIDs []int64
	defer func() { r.b.subscriptions.Remove(subIDs...) }()
	return r.b.atomically(ctx, func(ctx context.Context) error {
		var err error
		if subIDs, err = matching[int64](ctx, r.b.subs, q); err != nil || len(subIDs) == 0 {
			return err
		}
		now := r.b.opts.Now()
		if active, ok := values[apubsub.FieldSubStatus].(bool); ok {
			stamp := "deactivated_at"
			if active {
				stamp = "activated_at"
			}
			// only subscriptions whose state changes get a new date
			f := append(in("_id", subIDs), bson.E{Key: "active", Value: !active})
			_, err := r.b.subs.UpdateMany(ctx, f, bson.D{{Key: "$set", Value: bson.D{
				{Key: "active", Value: active},
				{Key: stamp, Value: now},
			}}})
			if err != nil {
				return fmt.Errorf("mongodb update subscriptions: %w", err)
			}
		}
		if accessed, ok := values[apubsub.FieldSubAccessed].(time.Time); ok {
			_, err := r.b.subs.UpdateMany(ctx, in("_id", subIDs),
				bson.D{{Key: "$set", Value: bson.D{{Key: "accessed_at", Value: accessed}}}})
			if err != nil {
				return fmt.Errorf("mongodb update subscriptions: %w", err)
			}
		}
		return nil
	})
}

type subscriberRunner struct{ b *Backend }

// pipeline groups the matching named subscriptions by subscriber.
func (r subscriberRunner) pipeline(q apubsub.Query) (mongo.Pipeline, error) {
	f, err := filter(q, bson.D{{Key: "subscriber", Value: bson.D{{Key: "$ne", Value: nil}}}})
	if err != nil {
		return nil, err
	}
	return mongo.Pipeline{
		{{Key: "$match", Value: f}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$subscriber"}}}},
	}, nil
}

type subscriberDoc struct {
	Name string `bson:"_id"`
}

func (r subscriberRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Subscriber, error) {
	pipe, err := r.pipeline(q)
	if err != nil {
		return nil, err
	}
	// subscriber_name is the only sortable field
	dir := 1
	if len(q.Sorts) > 0 && q.Sorts[0].Direction == apubsub.Desc {
		dir = -1
	}
	pipe = append(pipe, bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: dir}}}})
	if q.Offset > 0 {
		pipe = append(pipe, bson.D{{Key: "$skip", Value: int64(q.Offset)}})
	}
	if q.Limit > 0 {
		pipe = append(pipe, bson.D{{Key: "$limit", Value: int64(q.Limit)}})
	}
	cur, err := r.b.subs.Aggregate(ctx, pipe)
	if err != nil {
		return nil, fmt.Errorf("mongodb fetch subscribers: %w", err)
	}
	var docs []subscriberDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb fetch subscribers: %w", err)
	}
	out := make([]*apubsub.Subscriber, len(docs))
	for i, d := range docs {
		out[i] = r.b.GetSubscriber(d.Name)
	}
	return out, nil
}

func (r subscriberRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	pipe, err := r.pipeline(q)
	if err != nil {
		return 0, err
	}
	pipe = append(pipe, bson.D{{Key: "$count", Value: "n"}})
	cur, err := r.b.subs.Aggregate(ctx, pipe)
	if err != nil {
		return 0, fmt.Errorf("mongodb count subscribers: %w", err)
	}
	var res []struct {
		N int64 `bson:"n"`
	}
	if err := cur.All(ctx, &res); err != nil {
		return 0, fmt.Errorf("mongodb count subscribers: %w", err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return int(res[0].N), nil
}

// Delete removes every subscription of the matching subscribers.
func (r subscriberRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(ctx context.Context) error {
		pipe, err := r.pipeline(q)
		if err != nil {
			return err
		}
		cur, err := r.b.subs.Aggregate(ctx, pipe)
		if err != nil {
			return fmt.Errorf("mongodb delete subscribers: %w", err)
		}
		var docs []subscriberDoc
		if err := cur.All(ctx, &docs); err != nil {
			return fmt.Errorf("mongodb delete subscribers: %w", err)
		}
		names := make([]string, len(docs))
		for i, d := range docs {
			names[i] = d.Name
		}
		subIDs, err := idsOf[int64](ctx, r.b.subs, in("subscriber", names))
		if err != nil {
			return err
		}
		return r.b.deleteSubscriptions(ctx, subIDs)
	})
}

func (subscriberRunner) Update(context.Context, apubsub.Query, apubsub.Values) error {
	return apubsub.ErrUnsupportedOperation
}

type messageRunner struct{ b *Backend }

// Fetch pages through queue entries, then joins their messages. Entries
// whose message is gone are skipped.
func (r messageRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Message, error) {
	entries, err := find[queueDoc](ctx, r.b.queue, q)
	if err != nil {
		return nil, err
	}
	msgIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		msgIDs = append(msgIDs, e.MessageID)
	}
	docs, err := decodeAll[messageDoc](ctx, r.b.msgs, in("_id", msgIDs))
	if err != nil {
		return nil, err
	}
	msgs := make(map[int64]messageDoc, len(docs))
	for _, d := range docs {
		msgs[d.ID] = d
	}
	out := make([]*apubsub.Message, 0, len(entries))
	for _, e := range entries {
		m, ok := msgs[e.MessageID]
		if !ok {
			continue
		}
		out = append(out, apubsub.NewMessage(r.b, r.b.opts.Codec, e.project(m)))
	}
	return out, nil
}

func (r messageRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return count(ctx, r.b.queue, q)
}

// Delete removes the matching queue entries. Messages left without any
// entry are collected by the orphan sweep.
func (r messageRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(ctx context.Context) error {
		queueIDs, err := matching[int64](ctx, r.b.queue, q)
		if err != nil || len(queueIDs) == 0 {
			return err
		}
		if _, err := r.b.queue.DeleteMany(ctx, in("_id", queueIDs)); err != nil {
			return fmt.Errorf("mongodb delete queue: %w", err)
		}
		return nil
	})
}

func (r messageRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	unread, ok := values[apubsub.FieldMsgUnread].(bool)
	if !ok {
		return nil
	}
	return r.b.atomically(ctx, func(ctx context.Context) error {
		queueIDs, err := matching[int64](ctx, r.b.queue, q)
		if err != nil || len(queueIDs) == 0 {
			return err
		}
		return r.b.markUnread(ctx, in("_id", queueIDs), unread)
	})
}
