package redisdb

import (
	"context"
	"slices"

	"github.com/redis/go-redis/v9"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// plan collects the records a cascade removes. It is built from reads on
// the watched connection and written in one MULTI block.
type plan struct {
	b     *Backend
	queue map[int64]*apubsub.QueueEntry
	subs  map[int64]*apubsub.SubscriptionData
	msgs  map[int64]*apubsub.MessageData
	chans map[string]struct{}
}

func (b *Backend) newPlan() *plan {
	return &plan{
		b:     b,
		queue: make(map[int64]*apubsub.QueueEntry),
		subs:  make(map[int64]*apubsub.SubscriptionData),
		msgs:  make(map[int64]*apubsub.MessageData),
		chans: make(map[string]struct{}),
	}
}

func (p *plan) empty() bool {
	return len(p.queue) == 0 && len(p.subs) == 0 && len(p.msgs) == 0 && len(p.chans) == 0
}

func (p *plan) dropQueue(entries ...*apubsub.QueueEntry) {
	for _, q := range entries {
		p.queue[q.ID] = q
	}
}

// dropSubscriptions removes subscriptions along with their queue entries.
func (p *plan) dropSubscriptions(ctx context.Context, r reader, subs ...*apubsub.SubscriptionData) error {
	for _, s := range subs {
		p.subs[s.ID] = s
		if err := p.dropSubscriptionQueue(ctx, r, s.ID); err != nil {
			return err
		}
	}
	return nil
}

// dropSubscriptionQueue removes every queue entry of a subscription.
func (p *plan) dropSubscriptionQueue(ctx context.Context, r reader, subID int64) error {
	ids, err := members(ctx, r, p.b.subQueueKey(subID))
	if err != nil {
		return err
	}
	entries, err := p.b.loadQueue(ctx, r, ids)
	if err != nil {
		return err
	}
	for _, q := range entries {
		p.queue[q.ID] = q
	}
	return nil
}

// dropMessages removes messages along with their queue entries.
func (p *plan) dropMessages(ctx context.Context, r reader, msgs ...*apubsub.MessageData) error {
	for _, m := range msgs {
		p.msgs[m.ID] = m
		ids, err := members(ctx, r, p.b.msgQueueKey(m.ID))
		if err != nil {
			return err
		}
		entries, err := p.b.loadQueue(ctx, r, ids)
		if err != nil {
			return err
		}
		for _, q := range entries {
			p.queue[q.ID] = q
		}
	}
	return nil
}

// survives reports whether a queue entry is kept by the plan.
func (p *plan) survives(queueID int64) bool {
	_, planned := p.queue[queueID]
	return !planned
}

// dropUnqueued removes the given messages when every queue entry they have
// is already planned for removal.
func (p *plan) dropUnqueued(ctx context.Context, r reader, msgIDs []int64) error {
	var gone []int64
	for _, id := range msgIDs {
		if _, ok := p.msgs[id]; ok {
			continue
		}
		queued, err := members(ctx, r, p.b.msgQueueKey(id))
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(queued, p.survives) {
			gone = append(gone, id)
		}
	}
	msgs, err := p.b.loadMessages(ctx, r, gone)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		p.msgs[m.ID] = m
	}
	return nil
}

// dropChannels removes channels, their subscriptions and the messages that
// targeted them and end up queued nowhere.
func (p *plan) dropChannels(ctx context.Context, r reader, ids ...string) error {
	for _, ch := range ids {
		p.chans[ch] = struct{}{}
		subIDs, err := members(ctx, r, p.b.chanSubsKey(ch))
		if err != nil {
			return err
		}
		subs, err := p.b.loadSubscriptions(ctx, r, subIDs)
		if err != nil {
			return err
		}
		for _, s := range subs {
			if err := p.dropSubscriptions(ctx, r, s); err != nil {
				return err
			}
		}
	}
	for _, ch := range ids {
		msgIDs, err := members(ctx, r, p.b.chanMsgsKey(ch))
		if err != nil {
			return err
		}
		if err := p.dropUnqueued(ctx, r, msgIDs); err != nil {
			return err
		}
	}
	return nil
}

// apply writes the removals and keeps every index set consistent.
func (p *plan) apply(ctx context.Context, pipe redis.Pipeliner) {
	b := p.b
	for _, q := range p.queue {
		pipe.Del(ctx, b.queueKey(q.ID))
		pipe.SRem(ctx, b.queuesKey(), q.ID)
		pipe.SRem(ctx, b.subQueueKey(q.SubscriptionID), q.ID)
		pipe.SRem(ctx, b.msgQueueKey(q.MessageID), q.ID)
	}
	for _, s := range p.subs {
		pipe.Del(ctx, b.subKey(s.ID), b.subQueueKey(s.ID))
		pipe.SRem(ctx, b.subsKey(), s.ID)
		pipe.SRem(ctx, b.chanSubsKey(s.ChannelID), s.ID)
		if s.Subscriber != "" {
			pipe.HDel(ctx, b.subscriberKey(s.Subscriber), s.ChannelID)
		}
	}
	for _, m := range p.msgs {
		pipe.Del(ctx, b.msgKey(m.ID), b.msgQueueKey(m.ID))
		pipe.SRem(ctx, b.msgsKey(), m.ID)
		for _, ch := range m.ChannelIDs {
			pipe.SRem(ctx, b.chanMsgsKey(ch), m.ID)
		}
	}
	for ch := range p.chans {
		pipe.Del(ctx, b.chanKey(ch), b.chanSubsKey(ch), b.chanMsgsKey(ch))
		pipe.SRem(ctx, b.chansKey(), ch)
	}
}

// commit returns the write function of the plan, nil when there is nothing to write.
func (p *plan) commit(ctx context.Context) func(redis.Pipeliner) error {
	if p.empty() {
		return nil
	}
	return func(pipe redis.Pipeliner) error {
		p.apply(ctx, pipe)
		return nil
	}
}
