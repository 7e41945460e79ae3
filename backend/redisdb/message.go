package redisdb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
)

func (b *Backend) Send(ctx context.Context, channelIDs []string, contents any, opts ...apubsub.SendOption) (*apubsub.Message, error) {
	data, err := apubsub.EncodeContents(b.opts.Codec, contents)
	if err != nil {
		return nil, err
	}
	so := apubsub.NewSendOptions(b.opts.Now(), opts...)

	var (
		sent   *apubsub.MessageData
		queued int
	)
	err = b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		sent, queued = nil, 0
		chans, err := b.loadChannels(ctx, tx, channelIDs)
		if err != nil {
			return nil, err
		}
		targets := make([]string, 0, len(chans))
		for _, id := range channelIDs {
			if _, ok := chans[id]; ok && !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return nil, nil
		}

		var subIDs []int64
		for _, ch := range targets {
			ids, err := members(ctx, tx, b.chanSubsKey(ch))
			if err != nil {
				return nil, err
			}
			subIDs = append(subIDs, ids...)
		}
		subs, err := b.loadSubscriptions(ctx, tx, subIDs)
		if err != nil {
			return nil, err
		}
		recipients := make([]int64, 0, len(subs))
		for id, s := range subs {
			if s.Active && !so.IsExcluded(id) {
				recipients = append(recipients, id)
			}
		}
		slices.Sort(recipients)

		msgID, err := b.reserve(ctx, tx, "msg", 1)
		if err != nil {
			return nil, err
		}
		var firstQueueID int64
		if len(recipients) > 0 {
			if firstQueueID, err = b.reserve(ctx, tx, "queue", int64(len(recipients))); err != nil {
				return nil, err
			}
		}

		m := &apubsub.MessageData{
			ID:         msgID,
			ChannelIDs: targets,
			Contents:   data,
			Type:       so.Type,
			Level:      so.Level,
			Origin:     so.Origin,
			SentAt:     so.SentAt,
		}
		now := b.opts.Now()
		sent, queued = m, len(recipients)
		return func(p redis.Pipeliner) error {
			p.SAdd(ctx, b.msgsKey(), m.ID)
			if err := setRecord(ctx, p, b.msgKey(m.ID), newMessageRecord(m)); err != nil {
				return err
			}
			for i, subID := range recipients {
				q := &apubsub.QueueEntry{ID: firstQueueID + int64(i), MessageID: m.ID, SubscriptionID: subID, Unread: true}
				p.SAdd(ctx, b.queuesKey(), q.ID)
				p.SAdd(ctx, b.subQueueKey(subID), q.ID)
				p.SAdd(ctx, b.msgQueueKey(m.ID), q.ID)
				if err := setRecord(ctx, p, b.queueKey(q.ID), newQueueRecord(q)); err != nil {
					return err
				}
			}
			for _, ch := range targets {
				d := chans[ch]
				d.UpdatedAt = now
				p.SAdd(ctx, b.chanMsgsKey(ch), m.ID)
				if err := setRecord(ctx, p, b.chanKey(ch), newChannelRecord(d)); err != nil {
					return err
				}
			}
			return nil
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if sent == nil {
		b.logger.LogAttrs(ctx, slog.LevelDebug, "send skipped, no existing channel", logger.ChannelIDs(channelIDs))
		return nil, nil
	}

	b.logger.LogAttrs(ctx, slog.LevelDebug, "message sent",
		logger.MessageID(sent.ID),
		logger.ChannelIDs(sent.ChannelIDs),
		slog.Int("queued", queued),
	)
	b.collector.AfterSend(ctx)
	return apubsub.NewMessage(b, b.opts.Codec, *sent), nil
}

func (b *Backend) GetMessage(ctx context.Context, id int64) (*apubsub.Message, error) {
	rec, found, err := loadRecord[messageRecord](ctx, b.client, b.msgKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", apubsub.ErrMessageDoesNotExist, id)
	}
	return apubsub.NewMessage(b, b.opts.Codec, *rec.data()), nil
}

func (b *Backend) Fetch(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Message], error) {
	return apubsub.NewCursor[*apubsub.Message](apubsub.KindMessage, conds, messageRunner{b})
}

func (b *Backend) SetUnread(ctx context.Context, queueID int64, unread bool) error {
	return b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		rec, found, err := loadRecord[queueRecord](ctx, tx, b.queueKey(queueID))
		if err != nil || !found {
			return nil, err
		}
		q := rec.data()
		q.MarkUnread(unread, b.opts.Now())
		return func(p redis.Pipeliner) error {
			return setRecord(ctx, p, b.queueKey(q.ID), newQueueRecord(q))
		}, nil
	})
}
