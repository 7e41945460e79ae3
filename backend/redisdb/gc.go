package redisdb

import (
	"context"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// allQueue loads every queue entry.
func (b *Backend) allQueue(ctx context.Context, r reader) (map[int64]*apubsub.QueueEntry, error) {
	ids, err := members(ctx, r, b.queuesKey())
	if err != nil {
		return nil, err
	}
	return b.loadQueue(ctx, r, ids)
}

// sweep runs a planned removal atomically and returns the count it reports.
func (b *Backend) sweep(ctx context.Context, build func(tx *redis.Tx, p *plan) (int64, error)) (int64, error) {
	var n int64
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		p := b.newPlan()
		var err error
		if n, err = build(tx, p); err != nil {
			return nil, err
		}
		return p.commit(ctx), nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Backend) SweepInactive(ctx context.Context) (int64, error) {
	return b.sweep(ctx, func(tx *redis.Tx, p *plan) (int64, error) {
		ids, err := members(ctx, tx, b.subsKey())
		if err != nil {
			return 0, err
		}
		subs, err := b.loadSubscriptions(ctx, tx, ids)
		if err != nil {
			return 0, err
		}
		for _, s := range subs {
			if s.Active {
				continue
			}
			if err := p.dropSubscriptionQueue(ctx, tx, s.ID); err != nil {
				return 0, err
			}
		}
		return int64(len(p.queue)), nil
	})
}

func (b *Backend) TrimQueue(ctx context.Context, maxSize int) (int64, error) {
	if maxSize <= 0 {
		return 0, nil
	}
	return b.sweep(ctx, func(tx *redis.Tx, p *plan) (int64, error) {
		entries, err := b.allQueue(ctx, tx)
		if err != nil || len(entries) <= maxSize {
			return 0, err
		}
		msgIDs := make([]int64, 0, len(entries))
		for _, q := range entries {
			msgIDs = append(msgIDs, q.MessageID)
		}
		slices.Sort(msgIDs)
		slices.Reverse(msgIDs)
		boundary := msgIDs[maxSize-1]
		for _, q := range entries {
			if q.MessageID < boundary {
				p.dropQueue(q)
			}
		}
		return int64(len(p.queue)), nil
	})
}

// ExpireMessages deletes old messages together with their queue entries.
func (b *Backend) ExpireMessages(ctx context.Context, before time.Time) (int64, error) {
	return b.sweep(ctx, func(tx *redis.Tx, p *plan) (int64, error) {
		ids, err := members(ctx, tx, b.msgsKey())
		if err != nil {
			return 0, err
		}
		msgs, err := b.loadMessages(ctx, tx, ids)
		if err != nil {
			return 0, err
		}
		for _, m := range msgs {
			if m.SentAt.Before(before) {
				if err := p.dropMessages(ctx, tx, m); err != nil {
					return 0, err
				}
			}
		}
		return int64(len(p.msgs)), nil
	})
}

func (b *Backend) SweepOrphans(ctx context.Context) (int64, error) {
	return b.sweep(ctx, func(tx *redis.Tx, p *plan) (int64, error) {
		entries, err := b.allQueue(ctx, tx)
		if err != nil {
			return 0, err
		}
		ids, err := members(ctx, tx, b.msgsKey())
		if err != nil {
			return 0, err
		}
		msgs, err := b.loadMessages(ctx, tx, ids)
		if err != nil {
			return 0, err
		}
		queued := make(map[int64]struct{}, len(msgs))
		for _, q := range entries {
			if _, ok := msgs[q.MessageID]; !ok {
				p.dropQueue(q)
				continue
			}
			queued[q.MessageID] = struct{}{}
		}
		for id, m := range msgs {
			if _, ok := queued[id]; !ok {
				p.msgs[id] = m
			}
		}
		return int64(len(p.queue) + len(p.msgs)), nil
	})
}
