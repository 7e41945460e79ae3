package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

func (b *Backend) Send(ctx context.Context, channelIDs []string, contents any, opts ...apubsub.SendOption) (*apubsub.Message, error) {
	data, err := apubsub.EncodeContents(b.opts.Codec, contents)
	if err != nil {
		return nil, err
	}
	so := apubsub.NewSendOptions(b.opts.Now(), opts...)

	var (
		sent   *messageDoc
		queued int
	)
	err = b.atomically(ctx, func(ctx context.Context) error {
		sent, queued = nil, 0
		existing, err := b.loadChannels(ctx, channelIDs)
		if err != nil {
			return err
		}
		targets := make([]string, 0, len(existing))
		for _, id := range channelIDs {
			if _, ok := existing[id]; ok && !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return nil
		}

		f := bson.D{
			{Key: "chan_id", Value: bson.D{{Key: "$in", Value: targets}}},
			{Key: "active", Value: true},
		}
		if len(so.Excluded) > 0 {
			f = append(f, bson.E{Key: "_id", Value: bson.D{{Key: "$nin", Value: so.Excluded}}})
		}
		subs, err := decodeAll[subscriptionDoc](ctx, b.subs, f, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return err
		}

		msgID, err := b.reserve(ctx, "msg", 1)
		if err != nil {
			return err
		}
		m := messageDoc{
			ID:         msgID,
			ChannelIDs: targets,
			Contents:   data,
			Type:       so.Type,
			Level:      int64(so.Level),
			Origin:     so.Origin,
			SentAt:     so.SentAt,
		}
		if _, err := b.msgs.InsertOne(ctx, m); err != nil {
			return fmt.Errorf("mongodb insert message: %w", err)
		}

		if len(subs) > 0 {
			first, err := b.reserve(ctx, "queue", int64(len(subs)))
			if err != nil {
				return err
			}
			entries := make([]any, len(subs))
			for i, s := range subs {
				entries[i] = queueDoc{
					ID:             first + int64(i),
					MessageID:      m.ID,
					SubscriptionID: s.ID,
					ChannelID:      s.ChannelID,
					Subscriber:     s.Subscriber,
					Unread:         true,
					SentAt:         m.SentAt,
					Type:           m.Type,
					Level:          m.Level,
					Origin:         m.Origin,
				}
			}
			if _, err := b.queue.InsertMany(ctx, entries); err != nil {
				return fmt.Errorf("mongodb insert queue: %w", err)
			}
		}

		_, err = b.chans.UpdateMany(ctx, in("_id", targets),
			bson.D{{Key: "$set", Value: bson.D{{Key: "updated_at", Value: b.opts.Now()}}}})
		if err != nil {
			return fmt.Errorf("mongodb touch channels: %w", err)
		}
		sent, queued = &m, len(subs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sent == nil {
		b.logger.LogAttrs(ctx, slog.LevelDebug, "send skipped, no existing channel", logger.ChannelIDs(channelIDs))
		return nil, nil
	}
	b.channels.Remove(sent.ChannelIDs...)

	b.logger.LogAttrs(ctx, slog.LevelDebug, "message sent",
		logger.MessageID(sent.ID),
		logger.ChannelIDs(sent.ChannelIDs),
		slog.Int("queued", queued),
	)
	b.collector.AfterSend(ctx)
	return apubsub.NewMessage(b, b.opts.Codec, sent.data()), nil
}

func (b *Backend) GetMessage(ctx context.Context, id int64) (*apubsub.Message, error) {
	var doc messageDoc
	err := b.msgs.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if pkgmongo.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %d", apubsub.ErrMessageDoesNotExist, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb load message: %w", err)
	}
	return apubsub.NewMessage(b, b.opts.Codec, doc.data()), nil
}

func (b *Backend) Fetch(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Message], error) {
	return apubsub.NewCursor[*apubsub.Message](apubsub.KindMessage, conds, messageRunner{b})
}

func (b *Backend) SetUnread(ctx context.Context, queueID int64, unread bool) error {
	return b.atomically(ctx, func(ctx context.Context) error {
		return b.markUnread(ctx, bson.D{{Key: "_id", Value: queueID}}, unread)
	})
}

// markUnread toggles the read state of the entries matching f. Marking read
// keeps the first read time, marking unread clears it.
func (b *Backend) markUnread(ctx context.Context, f bson.D, unread bool) error {
	if unread {
		_, err := b.queue.UpdateMany(ctx, f, bson.D{
			{Key: "$set", Value: bson.D{{Key: "unread", Value: true}}},
			{Key: "$unset", Value: bson.D{{Key: "read_at", Value: ""}}},
		})
		if err != nil {
			return fmt.Errorf("mongodb mark unread: %w", err)
		}
		return nil
	}
	neverRead := append(slices.Clone(f), bson.E{Key: "read_at", Value: nil})
	if _, err := b.queue.UpdateMany(ctx, neverRead,
		bson.D{{Key: "$set", Value: bson.D{{Key: "read_at", Value: b.opts.Now()}}}}); err != nil {
		return fmt.Errorf("mongodb mark read: %w", err)
	}
	if _, err := b.queue.UpdateMany(ctx, f,
		bson.D{{Key: "$set", Value: bson.D{{Key: "unread", Value: false}}}}); err != nil {
		return fmt.Errorf("mongodb mark read: %w", err)
	}
	return nil
}
