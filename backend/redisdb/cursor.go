package redisdb

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/internal/eval"
)

// lookup returns the identifiers an equality or membership predicate on f
// pins the result to.
func lookup[T int64 | string](q apubsub.Query, f apubsub.Field) ([]T, bool) {
	p, ok := q.Predicate(f)
	if !ok || (p.Operator != apubsub.OpEqual && p.Operator != apubsub.OpIn) {
		return nil, false
	}
	out := make([]T, 0, len(p.Values))
	for _, v := range p.Values {
		if x, ok := v.(T); ok && !slices.Contains(out, x) {
			out = append(out, x)
		}
	}
	return out, true
}

type channelRunner struct{ b *Backend }

func (r channelRunner) match(ctx context.Context, rd reader, q apubsub.Query) ([]*apubsub.ChannelData, error) {
	var (
		rows []*apubsub.ChannelData
		err  error
	)
	if ids, ok := lookup[string](q, apubsub.FieldChannelID); ok {
		var byID map[string]*apubsub.ChannelData
		byID, err = r.b.loadChannels(ctx, rd, ids)
		rows = slices.Collect(maps.Values(byID))
	} else {
		rows, err = r.b.allChannels(ctx, rd)
	}
	if err != nil {
		return nil, err
	}
	return eval.Filter(rows, q.Predicates, eval.ChannelField), nil
}

func (r channelRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Channel, error) {
	rows, err := r.match(ctx, r.b.client, q)
	if err != nil {
		return nil, err
	}
	eval.Sort(rows, q.Sorts, eval.ChannelField)
	rows = eval.Window(rows, q.Limit, q.Offset)
	out := make([]*apubsub.Channel, len(rows))
	for i, d := range rows {
		out[i] = r.b.channel(d)
	}
	return out, nil
}

func (r channelRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	rows, err := r.match(ctx, r.b.client, q)
	return len(rows), err
}

func (r channelRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rows, err := r.match(ctx, tx, q)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(rows))
		for i, d := range rows {
			ids[i] = d.ID
		}
		p := r.b.newPlan()
		if err := p.dropChannels(ctx, tx, ids...); err != nil {
			return nil, err
		}
		return p.commit(ctx), nil
	})
}

func (r channelRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	title, ok := values[apubsub.FieldChanTitle].(string)
	if !ok {
		return nil
	}
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rows, err := r.match(ctx, tx, q)
		if err != nil || len(rows) == 0 {
			return nil, err
		}
		now := r.b.opts.Now()
		return func(p redis.Pipeliner) error {
			for _, d := range rows {
				d.Title = title
				d.UpdatedAt = now
				if err := setRecord(ctx, p, r.b.chanKey(d.ID), newChannelRecord(d)); err != nil {
					return err
				}
			}
			return nil
		}, nil
	})
}

// candidateSubscriptions narrows the subscriptions to load using the
// index sets, then loads them.
func (b *Backend) candidateSubscriptions(ctx context.Context, rd reader, q apubsub.Query) ([]*apubsub.SubscriptionData, error) {
	var (
		byID map[int64]*apubsub.SubscriptionData
		err  error
	)
	if ids, ok := lookup[int64](q, apubsub.FieldSubID); ok {
		byID, err = b.loadSubscriptions(ctx, rd, ids)
	} else if chans, ok := lookup[string](q, apubsub.FieldChannelID); ok {
		var ids []int64
		for _, ch := range chans {
			chIDs, err := members(ctx, rd, b.chanSubsKey(ch))
			if err != nil {
				return nil, err
			}
			ids = append(ids, chIDs...)
		}
		byID, err = b.loadSubscriptions(ctx, rd, ids)
	} else if names, ok := lookup[string](q, apubsub.FieldSubscriberName); ok && len(names) == 1 {
		byID, err = b.subscriberSubscriptions(ctx, rd, names[0])
	} else {
		var ids []int64
		if ids, err = members(ctx, rd, b.subsKey()); err != nil {
			return nil, err
		}
		byID, err = b.loadSubscriptions(ctx, rd, ids)
	}
	if err != nil {
		return nil, err
	}
	return slices.Collect(maps.Values(byID)), nil
}

type subscriptionRunner struct{ b *Backend }

func (r subscriptionRunner) match(ctx context.Context, rd reader, q apubsub.Query) ([]*apubsub.SubscriptionData, error) {
	rows, err := r.b.candidateSubscriptions(ctx, rd, q)
	if err != nil {
		return nil, err
	}
	return eval.Filter(rows, q.Predicates, eval.SubscriptionField), nil
}

func (r subscriptionRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Subscription, error) {
	rows, err := r.match(ctx, r.b.client, q)
	if err != nil {
		return nil, err
	}
	eval.Sort(rows, q.Sorts, eval.SubscriptionField)
	rows = eval.Window(rows, q.Limit, q.Offset)
	out := make([]*apubsub.Subscription, len(rows))
	for i, d := range rows {
		out[i] = r.b.subscription(d)
	}
	return out, nil
}

func (r subscriptionRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	rows, err := r.match(ctx, r.b.client, q)
	return len(rows), err
}

func (r subscriptionRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rows, err := r.match(ctx, tx, q)
		if err != nil {
			return nil, err
		}
		p := r.b.newPlan()
		if err := p.dropSubscriptions(ctx, tx, rows...); err != nil {
			return nil, err
		}
		return p.commit(ctx), nil
	})
}

func (r subscriptionRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rows, err := r.match(ctx, tx, q)
		if err != nil {
			return nil, err
		}
		now := r.b.opts.Now()
		changed := make([]*apubsub.SubscriptionData, 0, len(rows))
		for _, d := range rows {
			dirty := false
			if active, ok := values[apubsub.FieldSubStatus].(bool); ok && active != d.Active {
				d.Active = active
				if active {
					d.ActivatedAt = now
				} else {
					d.DeactivatedAt = now
				}
				dirty = true
			}
			if accessed, ok := values[apubsub.FieldSubAccessed].(time.Time); ok {
				d.AccessedAt = accessed
				dirty = true
			}
			if dirty {
				changed = append(changed, d)
			}
		}
		if len(changed) == 0 {
			return nil, nil
		}
		return func(p redis.Pipeliner) error {
			for _, d := range changed {
				if err := setRecord(ctx, p, r.b.subKey(d.ID), newSubscriptionRecord(d)); err != nil {
					return err
				}
			}
			return nil
		}, nil
	})
}

type subscriberRunner struct{ b *Backend }

func (r subscriberRunner) names(ctx context.Context, rd reader, q apubsub.Query) ([]string, error) {
	subs, err := r.b.candidateSubscriptions(ctx, rd, q)
	if err != nil {
		return nil, err
	}
	return eval.Subscribers(subs, q.Predicates), nil
}

func (r subscriberRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Subscriber, error) {
	names, err := r.names(ctx, r.b.client, q)
	if err != nil {
		return nil, err
	}
	eval.Sort(names, q.Sorts, eval.SubscriberField)
	names = eval.Window(names, q.Limit, q.Offset)
	out := make([]*apubsub.Subscriber, len(names))
	for i, name := range names {
		out[i] = r.b.GetSubscriber(name)
	}
	return out, nil
}

func (r subscriberRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	names, err := r.names(ctx, r.b.client, q)
	return len(names), err
}

// Delete removes every subscription of the matching subscribers.
func (r subscriberRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		names, err := r.names(ctx, tx, q)
		if err != nil {
			return nil, err
		}
		p := r.b.newPlan()
		for _, name := range names {
			subs, err := r.b.subscriberSubscriptions(ctx, tx, name)
			if err != nil {
				return nil, err
			}
			for _, d := range subs {
				if err := p.dropSubscriptions(ctx, tx, d); err != nil {
					return nil, err
				}
			}
		}
		return p.commit(ctx), nil
	})
}

func (subscriberRunner) Update(context.Context, apubsub.Query, apubsub.Values) error {
	return apubsub.ErrUnsupportedOperation
}

type messageRunner struct{ b *Backend }

// queueIDs narrows the queue entries to load using the index sets.
func (r messageRunner) queueIDs(ctx context.Context, rd reader, q apubsub.Query) ([]int64, error) {
	if ids, ok := lookup[int64](q, apubsub.FieldQueueID); ok {
		return ids, nil
	}
	var subIDs []int64
	if ids, ok := lookup[int64](q, apubsub.FieldSubID); ok {
		subIDs = ids
	} else if chans, ok := lookup[string](q, apubsub.FieldChannelID); ok {
		for _, ch := range chans {
			ids, err := members(ctx, rd, r.b.chanSubsKey(ch))
			if err != nil {
				return nil, err
			}
			subIDs = append(subIDs, ids...)
		}
	} else if names, ok := lookup[string](q, apubsub.FieldSubscriberName); ok && len(names) == 1 {
		subs, err := r.b.subscriberSubscriptions(ctx, rd, names[0])
		if err != nil {
			return nil, err
		}
		subIDs = slices.Collect(maps.Keys(subs))
	} else {
		return members(ctx, rd, r.b.queuesKey())
	}
	var out []int64
	for _, subID := range subIDs {
		ids, err := members(ctx, rd, r.b.subQueueKey(subID))
		if err != nil {
			return nil, err
		}
		out = append(out, ids...)
	}
	return out, nil
}

// rows joins queue entries with their message and subscription. Entries
// whose message or subscription is gone are skipped.
func (r messageRunner) rows(ctx context.Context, rd reader, q apubsub.Query) ([]eval.QueueRow, error) {
	ids, err := r.queueIDs(ctx, rd, q)
	if err != nil {
		return nil, err
	}
	entries, err := r.b.loadQueue(ctx, rd, ids)
	if err != nil {
		return nil, err
	}
	msgIDs := make([]int64, 0, len(entries))
	subIDs := make([]int64, 0, len(entries))
	for _, e := range entries {
		msgIDs = append(msgIDs, e.MessageID)
		subIDs = append(subIDs, e.SubscriptionID)
	}
	slices.Sort(msgIDs)
	slices.Sort(subIDs)
	msgs, err := r.b.loadMessages(ctx, rd, slices.Compact(msgIDs))
	if err != nil {
		return nil, err
	}
	subs, err := r.b.loadSubscriptions(ctx, rd, slices.Compact(subIDs))
	if err != nil {
		return nil, err
	}
	rows := make([]eval.QueueRow, 0, len(entries))
	for _, e := range entries {
		m, ok := msgs[e.MessageID]
		if !ok {
			continue
		}
		s, ok := subs[e.SubscriptionID]
		if !ok {
			continue
		}
		rows = append(rows, eval.QueueRow{Entry: e, Message: m, Subscription: s})
	}
	return eval.Filter(rows, q.Predicates, eval.QueueField), nil
}

func (r messageRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Message, error) {
	rows, err := r.rows(ctx, r.b.client, q)
	if err != nil {
		return nil, err
	}
	eval.Sort(rows, q.Sorts, eval.QueueField)
	rows = eval.Window(rows, q.Limit, q.Offset)
	out := make([]*apubsub.Message, len(rows))
	for i, row := range rows {
		out[i] = apubsub.NewMessage(r.b, r.b.opts.Codec, row.Project())
	}
	return out, nil
}

func (r messageRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	rows, err := r.rows(ctx, r.b.client, q)
	return len(rows), err
}

// Delete removes the matching queue entries. Messages left without any
// entry are collected by the orphan sweep.
func (r messageRunner) Delete(ctx context.Context, q apubsub.Query) error {
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rows, err := r.rows(ctx, tx, q)
		if err != nil {
			return nil, err
		}
		p := r.b.newPlan()
		for _, row := range rows {
			p.dropQueue(row.Entry)
		}
		return p.commit(ctx), nil
	})
}

func (r messageRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	unread, ok := values[apubsub.FieldMsgUnread].(bool)
	if !ok {
		return nil
	}
	return r.b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rows, err := r.rows(ctx, tx, q)
		if err != nil || len(rows) == 0 {
			return nil, err
		}
		now := r.b.opts.Now()
		return func(p redis.Pipeliner) error {
			for _, row := range rows {
				row.Entry.MarkUnread(unread, now)
				if err := setRecord(ctx, p, r.b.queueKey(row.Entry.ID), newQueueRecord(row.Entry)); err != nil {
					return err
				}
			}
			return nil
		}, nil
	})
}
