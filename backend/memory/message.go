package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

func (b *Backend) Send(ctx context.Context, channelIDs []string, contents any, opts ...apubsub.SendOption) (*apubsub.Message, error) {
	data, err := apubsub.EncodeContents(b.opts.Codec, contents)
	if err != nil {
		return nil, err
	}
	so := apubsub.NewSendOptions(b.opts.Now(), opts...)

	b.mu.Lock()
	targets := make([]string, 0, len(channelIDs))
	for _, id := range channelIDs {
		if _, ok := b.channels[id]; ok && !slices.Contains(targets, id) {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		b.mu.Unlock()
		b.logger.LogAttrs(ctx, slog.LevelDebug, "send skipped, no existing channel", logger.ChannelIDs(channelIDs))
		return nil, nil
	}

	b.msgSeq++
	m := &apubsub.MessageData{
		ID:         b.msgSeq,
		ChannelIDs: targets,
		Contents:   data,
		Type:       so.Type,
		Level:      so.Level,
		Origin:     so.Origin,
		SentAt:     so.SentAt,
	}
	b.messages[m.ID] = m

	// ordered by id for deterministic queue ids
	subIDs := make([]int64, 0, len(b.subs))
	for id, s := range b.subs {
		if s.Active && slices.Contains(targets, s.ChannelID) && !so.IsExcluded(id) {
			subIDs = append(subIDs, id)
		}
	}
	slices.Sort(subIDs)
	for _, subID := range subIDs {
		b.queueSeq++
		b.queue[b.queueSeq] = &apubsub.QueueEntry{
			ID:             b.queueSeq,
			MessageID:      m.ID,
			SubscriptionID: subID,
			Unread:         true,
		}
	}
	now := b.opts.Now()
	for _, id := range targets {
		b.channels[id].UpdatedAt = now
	}
	sent := *m
	b.mu.Unlock()

	b.logger.LogAttrs(ctx, slog.LevelDebug, "message sent",
		logger.MessageID(sent.ID),
		logger.ChannelIDs(targets),
		slog.Int("queued", len(subIDs)),
	)
	b.collector.AfterSend(ctx)
	return apubsub.NewMessage(b, b.opts.Codec, sent), nil
}

func (b *Backend) GetMessage(_ context.Context, id int64) (*apubsub.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", apubsub.ErrMessageDoesNotExist, id)
	}
	return apubsub.NewMessage(b, b.opts.Codec, *m), nil
}

func (b *Backend) Fetch(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Message], error) {
	return apubsub.NewCursor[*apubsub.Message](apubsub.KindMessage, conds, messageRunner{b})
}

func (b *Backend) SetUnread(_ context.Context, queueID int64, unread bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queue[queueID]; ok {
		q.MarkUnread(unread, b.opts.Now())
	}
	return nil
}
