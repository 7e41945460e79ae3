package memory

import (
	"context"
	"slices"
	"time"
)

func (b *Backend) SweepInactive(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for id, q := range b.queue {
		if s, ok := b.subs[q.SubscriptionID]; !ok || !s.Active {
			delete(b.queue, id)
			n++
		}
	}
	return n, nil
}

func (b *Backend) TrimQueue(_ context.Context, maxSize int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if maxSize <= 0 || len(b.queue) <= maxSize {
		return 0, nil
	}
	msgIDs := make([]int64, 0, len(b.queue))
	for _, q := range b.queue {
		msgIDs = append(msgIDs, q.MessageID)
	}
	slices.Sort(msgIDs)
	slices.Reverse(msgIDs)
	boundary := msgIDs[maxSize-1]

	var n int64
	for id, q := range b.queue {
		if q.MessageID < boundary {
			delete(b.queue, id)
			n++
		}
	}
	return n, nil
}

func (b *Backend) ExpireMessages(_ context.Context, before time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	expired := make(map[int64]struct{})
	for id, m := range b.messages {
		if m.SentAt.Before(before) {
			expired[id] = struct{}{}
			delete(b.messages, id)
		}
	}
	for id, q := range b.queue {
		if _, ok := expired[q.MessageID]; ok {
			delete(b.queue, id)
		}
	}
	return int64(len(expired)), nil
}

func (b *Backend) SweepOrphans(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	queued := make(map[int64]struct{}, len(b.messages))
	for id, q := range b.queue {
		if _, ok := b.messages[q.MessageID]; !ok {
			delete(b.queue, id)
			n++
			continue
		}
		queued[q.MessageID] = struct{}{}
	}
	for id := range b.messages {
		if _, ok := queued[id]; !ok {
			delete(b.messages, id)
			n++
		}
	}
	return n, nil
}
