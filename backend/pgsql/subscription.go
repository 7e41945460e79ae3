package pgsql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
)

const subscriptionSelect = `SELECT id, chan_id, subscriber, is_active, created_at, activated_at, deactivated_at, accessed_at FROM apb_sub`

func (b *Backend) subscription(d apubsub.SubscriptionData) *apubsub.Subscription {
	b.subscriptions.Put(d.ID, d)
	return apubsub.NewSubscription(b, d)
}

func (b *Backend) Subscribe(ctx context.Context, channelID, subscriber string) (*apubsub.Subscription, error) {
	now := b.opts.Now()
	d := apubsub.SubscriptionData{
		ChannelID:  channelID,
		Subscriber: subscriber,
		Active:     subscriber != "",
		CreatedAt:  now,
	}
	if d.Active {
		d.ActivatedAt = now
	} else {
		d.DeactivatedAt = now
	}

	err := b.pool.QueryRow(ctx, `
		INSERT INTO apb_sub (chan_id, subscriber, is_active, created_at, activated_at, deactivated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		channelID, nullString(subscriber), d.Active, now, nullTime(d.ActivatedAt), nullTime(d.DeactivatedAt),
	).Scan(&d.ID)
	switch {
	case pg.IsForeignKeyViolationError(err):
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, channelID)
	case pg.IsDuplicateKeyError(err):
		return nil, fmt.Errorf("%w: %s on channel %s", apubsub.ErrSubscriptionAlreadyExists, subscriber, channelID)
	case err != nil:
		return nil, fmt.Errorf("pgsql subscribe: %w", err)
	}

	b.logger.LogAttrs(ctx, slog.LevelDebug, "subscription created",
		logger.SubscriptionID(d.ID),
		logger.ChannelID(channelID),
		logger.Subscriber(subscriber),
	)
	return b.subscription(d), nil
}

func (b *Backend) GetSubscription(ctx context.Context, id int64) (*apubsub.Subscription, error) {
	if d, ok := b.subscriptions.Get(id); ok {
		return apubsub.NewSubscription(b, d), nil
	}
	subs, err := b.loadSubscriptions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	return subs[0], nil
}

func (b *Backend) GetSubscriptions(ctx context.Context, ids []int64) ([]*apubsub.Subscription, error) {
	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := b.subscriptions.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return b.loadSubscriptions(ctx, ids)
	}
	out := make([]*apubsub.Subscription, 0, len(ids))
	for _, id := range ids {
		d, ok := b.subscriptions.Get(id)
		if !ok {
			return b.loadSubscriptions(ctx, ids)
		}
		out = append(out, apubsub.NewSubscription(b, d))
	}
	return out, nil
}

// loadSubscriptions reads from the database, in ids order.
func (b *Backend) loadSubscriptions(ctx context.Context, ids []int64) ([]*apubsub.Subscription, error) {
	rows, err := b.pool.Query(ctx, subscriptionSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgsql load subscriptions: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[subscriptionRow])
	if err != nil {
		return nil, fmt.Errorf("pgsql load subscriptions: %w", err)
	}
	byID := make(map[int64]apubsub.SubscriptionData, len(found))
	for _, r := range found {
		byID[r.ID] = r.data()
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
	err := b.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM apb_sub WHERE id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("pgsql delete subscriptions: %w", err)
		}
		if !ignoreErrors && tag.RowsAffected() != int64(len(unique(ids))) {
			return fmt.Errorf("%w: some of %v", apubsub.ErrSubscriptionDoesNotExist, ids)
		}
		return nil
	})
	b.subscriptions.Remove(ids...)
	return err
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
	rows, err := b.pool.Query(ctx, `DELETE FROM apb_sub WHERE subscriber = $1 RETURNING id`, name)
	if err != nil {
		return fmt.Errorf("pgsql delete subscriber: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return fmt.Errorf("pgsql delete subscriber: %w", err)
	}
	b.subscriptions.Remove(ids...)
	return nil
}

func (b *Backend) FetchSubscribers(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Subscriber], error) {
	return apubsub.NewCursor[*apubsub.Subscriber](apubsub.KindSubscriber, conds, subscriberRunner{b})
}

func unique[T comparable](values []T) []T {
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
