package mongodb

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

func (b *Backend) subscription(d apubsub.SubscriptionData) *apubsub.Subscription {
	b.subscriptions.Put(d.ID, d)
	return apubsub.NewSubscription(b, d)
}

func (b *Backend) Subscribe(ctx context.Context, channelID, subscriber string) (*apubsub.Subscription, error) {
	var d apubsub.SubscriptionData
	err := b.atomically(ctx, func(ctx context.Context) error {
		n, err := b.chans.CountDocuments(ctx, bson.D{{Key: "_id", Value: channelID}})
		if err != nil {
			return fmt.Errorf("mongodb subscribe: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, channelID)
		}
		id, err := b.reserve(ctx, "sub", 1)
		if err != nil {
			return err
		}
		now := b.opts.Now()
		d = apubsub.SubscriptionData{ID: id, ChannelID: channelID, Subscriber: subscriber, CreatedAt: now}
		if subscriber != "" {
			d.Active = true
			d.ActivatedAt = now
		} else {
			d.DeactivatedAt = now
		}
		_, err = b.subs.InsertOne(ctx, newSubscriptionDoc(d))
		if pkgmongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s on channel %s", apubsub.ErrSubscriptionAlreadyExists, subscriber, channelID)
		}
		if err != nil {
			return fmt.Errorf("mongodb subscribe: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.logger.LogAttrs(ctx, slog.LevelDebug, "subscription created",
		logger.SubscriptionID(d.ID),
		logger.ChannelID(channelID),
		logger.Subscriber(subscriber),
	)
	return b.subscription(d), nil
}

// loadSubscriptions reads subscriptions from the database, bypassing the cache.
func (b *Backend) loadSubscriptions(ctx context.Context, ids []int64) (map[int64]apubsub.SubscriptionData, error) {
	docs, err := decodeAll[subscriptionDoc](ctx, b.subs, in("_id", ids))
	if err != nil {
		return nil, err
	}
	out := make(map[int64]apubsub.SubscriptionData, len(docs))
	for _, d := range docs {
		out[d.ID] = d.data()
	}
	return out, nil
}

func (b *Backend) GetSubscription(ctx context.Context, id int64) (*apubsub.Subscription, error) {
	subs, err := b.GetSubscriptions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return subs[0], nil
}

func (b *Backend) GetSubscriptions(ctx context.Context, ids []int64) ([]*apubsub.Subscription, error) {
	out := make([]*apubsub.Subscription, len(ids))
	var missing []int64
	for i, id := range ids {
		if d, ok := b.subscriptions.Get(id); ok {
			out[i] = apubsub.NewSubscription(b, d)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := b.loadSubscriptions(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if out[i] != nil {
			continue
		}
		d, ok := loaded[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
		}
		out[i] = b.subscription(d)
	}
	return out, nil
}

func (b *Backend) DeleteSubscription(ctx context.Context, id int64) error {
	return b.DeleteSubscriptions(ctx, []int64{id}, true)
}

func (b *Backend) DeleteSubscriptions(ctx context.Context, ids []int64, ignoreErrors bool) error {
	err := b.atomically(ctx, func(ctx context.Context) error {
		if !ignoreErrors {
			existing, err := b.loadSubscriptions(ctx, ids)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if _, ok := existing[id]; !ok {
					return fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
				}
			}
		}
		return b.deleteSubscriptions(ctx, ids)
	})
	b.subscriptions.Remove(ids...)
	return err
}

// deleteSubscriptions removes subscriptions and their queue entries.
func (b *Backend) deleteSubscriptions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := b.queue.DeleteMany(ctx, in("sub_id", ids)); err != nil {
		return fmt.Errorf("mongodb delete subscription queues: %w", err)
	}
	if _, err := b.subs.DeleteMany(ctx, in("_id", ids)); err != nil {
		return fmt.Errorf("mongodb delete subscriptions: %w", err)
	}
	b.subscriptions.Remove(ids...)
	return nil
}

func (b *Backend) FetchSubscriptions(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Subscription], error) {
	return apubsub.NewCursor[*apubsub.Subscription](apubsub.KindSubscription, conds, subscriptionRunner{b})
}

func (b *Backend) GetSubscriber(name string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, name)
}

func (b *Backend) DeleteSubscriber(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	err := b.atomically(ctx, func(ctx context.Context) error {
		subIDs, err := idsOf[int64](ctx, b.subs, bson.D{{Key: "subscriber", Value: name}})
		if err != nil {
			return err
		}
		return b.deleteSubscriptions(ctx, subIDs)
	})
	if err != nil {
		return err
	}
	b.logger.LogAttrs(ctx, slog.LevelDebug, "subscriber deleted", logger.Subscriber(name))
	return nil
}

func (b *Backend) FetchSubscribers(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Subscriber], error) {
	return apubsub.NewCursor[*apubsub.Subscriber](apubsub.KindSubscriber, conds, subscriberRunner{b})
}
