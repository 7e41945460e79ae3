package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.mongodb.org/mongo-driver/v2/bson"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

func (b *Backend) channel(d apubsub.ChannelData) *apubsub.Channel {
	b.channels.Put(d.ID, d)
	return apubsub.NewChannel(b, d)
}

func (b *Backend) CreateChannel(ctx context.Context, id, title string, ignoreErrors bool) (*apubsub.Channel, error) {
	now := b.opts.Now()
	doc := channelDoc{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}
	_, err := b.chans.InsertOne(ctx, doc)
	if err == nil {
		b.logger.LogAttrs(ctx, slog.LevelDebug, "channel created", logger.ChannelID(id))
		return b.channel(doc.data()), nil
	}
	if !pkgmongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("mongodb create channel: %w", err)
	}
	if !ignoreErrors {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
	}
	return b.loadChannel(ctx, id)
}

func (b *Backend) loadChannel(ctx context.Context, id string) (*apubsub.Channel, error) {
	var doc channelDoc
	err := b.chans.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if pkgmongo.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb load channel: %w", err)
	}
	return b.channel(doc.data()), nil
}

func (b *Backend) CreateChannels(ctx context.Context, ids []string, ignoreErrors bool) ([]*apubsub.Channel, error) {
	var out []*apubsub.Channel
	err := b.atomically(ctx, func(ctx context.Context) error {
		out = out[:0]
		existing, err := b.loadChannels(ctx, ids)
		if err != nil {
			return err
		}
		if !ignoreErrors {
			// inserts are not rolled back without transactions
			seen := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				_, exists := existing[id]
				_, repeated := seen[id]
				if exists || repeated {
					return fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
				}
				seen[id] = struct{}{}
			}
		}
		now := b.opts.Now()
		for _, id := range ids {
			if d, ok := existing[id]; ok {
				if !ignoreErrors {
					return fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
				}
				out = append(out, b.channel(d))
				continue
			}
			doc := channelDoc{ID: id, CreatedAt: now, UpdatedAt: now}
			_, err := b.chans.InsertOne(ctx, doc)
			switch {
			case err == nil:
				existing[id] = doc.data()
				out = append(out, b.channel(doc.data()))
			case !pkgmongo.IsDuplicateKeyError(err):
				return fmt.Errorf("mongodb create channels: %w", err)
			case !ignoreErrors:
				return fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
			default:
				// created concurrently
				c, err := b.loadChannel(ctx, id)
				if err != nil {
					return err
				}
				existing[id] = c.ChannelData
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadChannels reads channels from the database, bypassing the cache.
func (b *Backend) loadChannels(ctx context.Context, ids []string) (map[string]apubsub.ChannelData, error) {
	docs, err := decodeAll[channelDoc](ctx, b.chans, in("_id", ids))
	if err != nil {
		return nil, err
	}
	out := make(map[string]apubsub.ChannelData, len(docs))
	for _, d := range docs {
		out[d.ID] = d.data()
	}
	return out, nil
}

func (b *Backend) GetChannel(ctx context.Context, id string) (*apubsub.Channel, error) {
	if d, ok := b.channels.Get(id); ok {
		return apubsub.NewChannel(b, d), nil
	}
	return b.loadChannel(ctx, id)
}

func (b *Backend) GetChannels(ctx context.Context, ids []string) ([]*apubsub.Channel, error) {
	out := make([]*apubsub.Channel, len(ids))
	var missing []string
	for i, id := range ids {
		if d, ok := b.channels.Get(id); ok {
			out[i] = apubsub.NewChannel(b, d)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	loaded, err := b.loadChannels(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if out[i] != nil {
			continue
		}
		d, ok := loaded[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
		}
		out[i] = b.channel(d)
	}
	return out, nil
}

func (b *Backend) DeleteChannel(ctx context.Context, id string, ignoreErrors bool) error {
	return b.DeleteChannels(ctx, []string{id}, ignoreErrors)
}

func (b *Backend) DeleteChannels(ctx context.Context, ids []string, ignoreErrors bool) error {
	err := b.atomically(ctx, func(ctx context.Context) error {
		existing, err := b.loadChannels(ctx, ids)
		if err != nil {
			return err
		}
		targets := make([]string, 0, len(existing))
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				if !ignoreErrors {
					return fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
				}
				continue
			}
			if !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		return b.deleteChannels(ctx, targets)
	})
	b.FlushCaches()
	if err != nil {
		return err
	}
	b.logger.LogAttrs(ctx, slog.LevelDebug, "channels deleted", logger.ChannelIDs(ids))
	return nil
}

// deleteChannels cascades to subscriptions, their queue entries, and the
// messages that targeted the channels and are queued nowhere anymore.
func (b *Backend) deleteChannels(ctx context.Context, chanIDs []string) error {
	if len(chanIDs) == 0 {
		return nil
	}
	subIDs, err := idsOf[int64](ctx, b.subs, in("chan_id", chanIDs))
	if err != nil {
		return err
	}
	if err := b.deleteSubscriptions(ctx, subIDs); err != nil {
		return err
	}
	msgIDs, err := idsOf[int64](ctx, b.msgs, in("chan_ids", chanIDs))
	if err != nil {
		return err
	}
	if err := b.deleteUnqueued(ctx, msgIDs); err != nil {
		return err
	}
	if _, err := b.chans.DeleteMany(ctx, in("_id", chanIDs)); err != nil {
		return fmt.Errorf("mongodb delete channels: %w", err)
	}
	return nil
}

// deleteUnqueued deletes the given messages that have no queue entry left.
func (b *Backend) deleteUnqueued(ctx context.Context, msgIDs []int64) error {
	if len(msgIDs) == 0 {
		return nil
	}
	var queued []int64
	if err := b.queue.Distinct(ctx, "msg_id", in("msg_id", msgIDs)).Decode(&queued); err != nil {
		return fmt.Errorf("mongodb queued messages: %w", err)
	}
	gone := slices.DeleteFunc(slices.Clone(msgIDs), func(id int64) bool {
		return slices.Contains(queued, id)
	})
	if len(gone) == 0 {
		return nil
	}
	if _, err := b.msgs.DeleteMany(ctx, in("_id", gone)); err != nil {
		return fmt.Errorf("mongodb delete messages: %w", err)
	}
	return nil
}

func (b *Backend) FetchChannels(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Channel], error) {
	return apubsub.NewCursor[*apubsub.Channel](apubsub.KindChannel, conds, channelRunner{b})
}
