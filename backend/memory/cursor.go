package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/internal/eval"
)

type channelRunner struct{ b *Backend }

func (r channelRunner) matchLocked(q apubsub.Query) []*apubsub.ChannelData {
	return eval.Run(slices.Collect(maps.Values(r.b.channels)), q, eval.ChannelField)
}

func (r channelRunner) Fetch(_ context.Context, q apubsub.Query) ([]*apubsub.Channel, error) {
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()

	rows := r.matchLocked(q)
	out := make([]*apubsub.Channel, len(rows))
	for i, d := range rows {
		out[i] = r.b.channel(d)
	}
	return out, nil
}

func (r channelRunner) Total(_ context.Context, q apubsub.Query) (int, error) {
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()
	return len(eval.Filter(slices.Collect(maps.Values(r.b.channels)), q.Predicates, eval.ChannelField)), nil
}

func (r channelRunner) Delete(_ context.Context, q apubsub.Query) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	for _, d := range eval.Filter(slices.Collect(maps.Values(r.b.channels)), q.Predicates, eval.ChannelField) {
		r.b.deleteChannelLocked(d.ID)
	}
	return nil
}

func (r channelRunner) Update(_ context.Context, q apubsub.Query, values apubsub.Values) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	now := r.b.opts.Now()
	for _, d := range eval.Filter(slices.Collect(maps.Values(r.b.channels)), q.Predicates, eval.ChannelField) {
		if title, ok := values[apubsub.FieldChanTitle]; ok {
			d.Title = title.(string)
			d.UpdatedAt = now
		}
	}
	return nil
}

type subscriptionRunner struct{ b *Backend }

func (r subscriptionRunner) all() []*apubsub.SubscriptionData {
	return slices.Collect(maps.Values(r.b.subs))
}

func (r subscriptionRunner) Fetch(_ context.Context, q apubsub.Query) ([]*apubsub.Subscription, error) {
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()

	rows := eval.Run(r.all(), q, eval.SubscriptionField)
	out := make([]*apubsub.Subscription, len(rows))
	for i, d := range rows {
		out[i] = r.b.subscription(d)
	}
	return out, nil
}

func (r subscriptionRunner) Total(_ context.Context, q apubsub.Query) (int, error) {
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()
	return len(eval.Filter(r.all(), q.Predicates, eval.SubscriptionField)), nil
}

func (r subscriptionRunner) Delete(_ context.Context, q apubsub.Query) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	for _, d := range eval.Filter(r.all(), q.Predicates, eval.SubscriptionField) {
		r.b.deleteSubscriptionLocked(d.ID)
	}
	return nil
}

func (r subscriptionRunner) Update(_ context.Context, q apubsub.Query, values apubsub.Values) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	now := r.b.opts.Now()
	for _, d := range eval.Filter(r.all(), q.Predicates, eval.SubscriptionField) {
		if active, ok := values[apubsub.FieldSubStatus].(bool); ok && active != d.Active {
			d.Active = active
			if active {
				d.ActivatedAt = now
			} else {
				d.DeactivatedAt = now
			}
		}
		if accessed, ok := values[apubsub.FieldSubAccessed]; ok {
			d.AccessedAt = accessed.(time.Time)
		}
	}
	return nil
}

type subscriberRunner struct{ b *Backend }

func (r subscriberRunner) names(q apubsub.Query) []string {
	return eval.Subscribers(slices.Collect(maps.Values(r.b.subs)), q.Predicates)
}

func (r subscriberRunner) Fetch(_ context.Context, q apubsub.Query) ([]*apubsub.Subscriber, error) {
	r.b.mu.RLock()
	names := r.names(q)
	r.b.mu.RUnlock()

	eval.Sort(names, q.Sorts, eval.SubscriberField)
	names = eval.Window(names, q.Limit, q.Offset)
	out := make([]*apubsub.Subscriber, len(names))
	for i, name := range names {
		out[i] = r.b.GetSubscriber(name)
	}
	return out, nil
}

func (r subscriberRunner) Total(_ context.Context, q apubsub.Query) (int, error) {
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()
	return len(r.names(q)), nil
}

// Delete removes every subscription of the matching subscribers.
func (r subscriberRunner) Delete(_ context.Context, q apubsub.Query) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	names := r.names(q)
	for id, s := range r.b.subs {
		if slices.Contains(names, s.Subscriber) {
			r.b.deleteSubscriptionLocked(id)
		}
	}
	return nil
}

func (subscriberRunner) Update(context.Context, apubsub.Query, apubsub.Values) error {
	return apubsub.ErrUnsupportedOperation
}

type messageRunner struct{ b *Backend }

// rowsLocked joins queue entries with their message and subscription.
// Entries whose message or subscription is gone are skipped.
func (r messageRunner) rowsLocked() []eval.QueueRow {
	rows := make([]eval.QueueRow, 0, len(r.b.queue))
	for _, q := range r.b.queue {
		m, ok := r.b.messages[q.MessageID]
		if !ok {
			continue
		}
		s, ok := r.b.subs[q.SubscriptionID]
		if !ok {
			continue
		}
		rows = append(rows, eval.QueueRow{Entry: q, Message: m, Subscription: s})
	}
	return rows
}

func (r messageRunner) Fetch(_ context.Context, q apubsub.Query) ([]*apubsub.Message, error) {
	if r.b.cfg.ConsumeOnFetch {
		r.b.mu.Lock()
		defer r.b.mu.Unlock()
	} else {
		r.b.mu.RLock()
		defer r.b.mu.RUnlock()
	}

	rows := eval.Run(r.rowsLocked(), q, eval.QueueField)
	out := make([]*apubsub.Message, len(rows))
	for i, row := range rows {
		out[i] = apubsub.NewMessage(r.b, r.b.opts.Codec, row.Project())
	}
	if r.b.cfg.ConsumeOnFetch {
		r.consumeLocked(rows)
	}
	return out, nil
}

// consumeLocked drops fetched entries, then the messages left without any.
func (r messageRunner) consumeLocked(rows []eval.QueueRow) {
	touched := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		delete(r.b.queue, row.Entry.ID)
		touched[row.Message.ID] = struct{}{}
	}
	for _, q := range r.b.queue {
		delete(touched, q.MessageID)
	}
	for id := range touched {
		delete(r.b.messages, id)
	}
}

func (r messageRunner) Total(_ context.Context, q apubsub.Query) (int, error) {
	r.b.mu.RLock()
	defer r.b.mu.RUnlock()
	return len(eval.Filter(r.rowsLocked(), q.Predicates, eval.QueueField)), nil
}

// Delete removes the matching queue entries. Messages left without any
// entry are collected by the orphan sweep.
func (r messageRunner) Delete(_ context.Context, q apubsub.Query) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	for _, row := range eval.Filter(r.rowsLocked(), q.Predicates, eval.QueueField) {
		delete(r.b.queue, row.Entry.ID)
	}
	return nil
}

func (r messageRunner) Update(_ context.Context, q apubsub.Query, values apubsub.Values) error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	unread, ok := values[apubsub.FieldMsgUnread].(bool)
	if !ok {
		return nil
	}
	now := r.b.opts.Now()
	for _, row := range eval.Filter(r.rowsLocked(), q.Predicates, eval.QueueField) {
		row.Entry.MarkUnread(unread, now)
	}
	return nil
}
