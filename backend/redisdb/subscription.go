package redisdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

func (b *Backend) subscription(d *apubsub.SubscriptionData) *apubsub.Subscription {
	return apubsub.NewSubscription(b, *d)
}

func (b *Backend) Subscribe(ctx context.Context, channelID, subscriber string) (*apubsub.Subscription, error) {
	var d *apubsub.SubscriptionData
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		if _, found, err := loadRecord[channelRecord](ctx, tx, b.chanKey(channelID)); err != nil {
			return nil, err
		} else if !found {
			return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, channelID)
		}
		if subscriber != "" {
			err := tx.HGet(ctx, b.subscriberKey(subscriber), channelID).Err()
			if err == nil {
				return nil, fmt.Errorf("%w: %s on channel %s", apubsub.ErrSubscriptionAlreadyExists, subscriber, channelID)
			}
			if !errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("redis subscriber lookup: %w", err)
			}
		}
		subID, err := b.reserve(ctx, tx, "sub", 1)
		if err != nil {
			return nil, err
		}
		now := b.opts.Now()
		d = &apubsub.SubscriptionData{ID: subID, ChannelID: channelID, Subscriber: subscriber, CreatedAt: now}
		if subscriber != "" {
			d.Active = true
			d.ActivatedAt = now
		} else {
			d.DeactivatedAt = now
		}
		return func(p redis.Pipeliner) error {
			p.SAdd(ctx, b.subsKey(), d.ID)
			p.SAdd(ctx, b.chanSubsKey(channelID), d.ID)
			if subscriber != "" {
				p.HSet(ctx, b.subscriberKey(subscriber), channelID, d.ID)
			}
			return setRecord(ctx, p, b.subKey(d.ID), newSubscriptionRecord(d))
		}, nil
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

func (b *Backend) GetSubscription(ctx context.Context, id int64) (*apubsub.Subscription, error) {
	rec, found, err := loadRecord[subscriptionRecord](ctx, b.client, b.subKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
	}
	return b.subscription(rec.data()), nil
}

func (b *Backend) GetSubscriptions(ctx context.Context, ids []int64) ([]*apubsub.Subscription, error) {
	byID, err := b.loadSubscriptions(ctx, b.client, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*apubsub.Subscription, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
		}
		out = append(out, b.subscription(d))
	}
	return out, nil
}

func (b *Backend) DeleteSubscription(ctx context.Context, id int64) error {
	return b.DeleteSubscriptions(ctx, []int64{id}, true)
}

func (b *Backend) DeleteSubscriptions(ctx context.Context, ids []int64, ignoreErrors bool) error {
	return b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		byID, err := b.loadSubscriptions(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		if !ignoreErrors {
			for _, id := range ids {
				if _, ok := byID[id]; !ok {
					return nil, fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
				}
			}
		}
		p := b.newPlan()
		for _, d := range byID {
			if err := p.dropSubscriptions(ctx, tx, d); err != nil {
				return nil, err
			}
		}
		return p.commit(ctx), nil
	})
}

func (b *Backend) FetchSubscriptions(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Subscription], error) {
	return apubsub.NewCursor[*apubsub.Subscription](apubsub.KindSubscription, conds, subscriptionRunner{b})
}

func (b *Backend) GetSubscriber(name string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, name)
}

// subscriberSubscriptions loads every subscription owned by name.
func (b *Backend) subscriberSubscriptions(ctx context.Context, r reader, name string) (map[int64]*apubsub.SubscriptionData, error) {
	vals, err := r.HVals(ctx, b.subscriberKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis subscriber lookup: %w", err)
	}
	ids, err := parseIDs(vals)
	if err != nil {
		return nil, err
	}
	return b.loadSubscriptions(ctx, r, ids)
}

func (b *Backend) DeleteSubscriber(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		subs, err := b.subscriberSubscriptions(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		p := b.newPlan()
		for _, d := range subs {
			if err := p.dropSubscriptions(ctx, tx, d); err != nil {
				return nil, err
			}
		}
		return p.commit(ctx), nil
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
