package memory

import (
	"context"
	"fmt"
	"log/slog"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

func (b *Backend) subscription(d *apubsub.SubscriptionData) *apubsub.Subscription {
	return apubsub.NewSubscription(b, *d)
}

func (b *Backend) Subscribe(ctx context.Context, channelID, subscriber string) (*apubsub.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.channels[channelID]; !ok {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, channelID)
	}
	if subscriber != "" {
		for _, s := range b.subs {
			if s.Subscriber == subscriber && s.ChannelID == channelID {
				return nil, fmt.Errorf("%w: %s on channel %s", apubsub.ErrSubscriptionAlreadyExists, subscriber, channelID)
			}
		}
	}

	now := b.opts.Now()
	b.subSeq++
	d := &apubsub.SubscriptionData{
		ID:         b.subSeq,
		ChannelID:  channelID,
		Subscriber: subscriber,
		CreatedAt:  now,
	}
	if subscriber != "" {
		d.Active = true
		d.ActivatedAt = now
	} else {
		d.DeactivatedAt = now
	}
	b.subs[d.ID] = d

	b.logger.LogAttrs(ctx, slog.LevelDebug, "subscription created",
		logger.SubscriptionID(d.ID),
		logger.ChannelID(channelID),
		logger.Subscriber(subscriber),
	)
	return b.subscription(d), nil
}

func (b *Backend) GetSubscription(_ context.Context, id int64) (*apubsub.Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d, ok := b.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
	}
	return b.subscription(d), nil
}

func (b *Backend) GetSubscriptions(_ context.Context, ids []int64) ([]*apubsub.Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*apubsub.Subscription, 0, len(ids))
	for _, id := range ids {
		d, ok := b.subs[id]
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

func (b *Backend) DeleteSubscriptions(_ context.Context, ids []int64, ignoreErrors bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ignoreErrors {
		for _, id := range ids {
			if _, ok := b.subs[id]; !ok {
				return fmt.Errorf("%w: %d", apubsub.ErrSubscriptionDoesNotExist, id)
			}
		}
	}
	for _, id := range ids {
		b.deleteSubscriptionLocked(id)
	}
	return nil
}

func (b *Backend) deleteSubscriptionLocked(id int64) {
	for qid, q := range b.queue {
		if q.SubscriptionID == id {
			delete(b.queue, qid)
		}
	}
	delete(b.subs, id)
}

func (b *Backend) FetchSubscriptions(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Subscription], error) {
	return apubsub.NewCursor[*apubsub.Subscription](apubsub.KindSubscription, conds, subscriptionRunner{b})
}

func (b *Backend) GetSubscriber(name string) *apubsub.Subscriber {
	return apubsub.NewSubscriber(b, name)
}

func (b *Backend) DeleteSubscriber(_ context.Context, name string) error {
	if name == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subs {
		if s.Subscriber == name {
			b.deleteSubscriptionLocked(id)
		}
	}
	return nil
}

func (b *Backend) FetchSubscribers(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Subscriber], error) {
	return apubsub.NewCursor[*apubsub.Subscriber](apubsub.KindSubscriber, conds, subscriberRunner{b})
}
