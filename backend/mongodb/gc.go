package mongodb

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	pkgmongo "github.com/makinacorpus/apubsub-sub000/pkg/mongo"
)

func (b *Backend) SweepInactive(ctx context.Context) (int64, error) {
	var n int64
	err := b.atomically(ctx, func(ctx context.Context) error {
		subIDs, err := idsOf[int64](ctx, b.subs, bson.D{{Key: "active", Value: false}})
		if err != nil || len(subIDs) == 0 {
			return err
		}
		res, err := b.queue.DeleteMany(ctx, in("sub_id", subIDs))
		if err != nil {
			return fmt.Errorf("mongodb sweep inactive: %w", err)
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}

func (b *Backend) TrimQueue(ctx context.Context, maxSize int) (int64, error) {
	if maxSize <= 0 {
		return 0, nil
	}
	var n int64
	err := b.atomically(ctx, func(ctx context.Context) error {
		var boundary struct {
			MessageID int64 `bson:"msg_id"`
		}
		err := b.queue.FindOne(ctx, bson.D{}, options.FindOne().
			SetSort(bson.D{{Key: "msg_id", Value: -1}}).
			SetSkip(int64(maxSize-1)).
			SetProjection(bson.D{{Key: "msg_id", Value: 1}}),
		).Decode(&boundary)
		if pkgmongo.IsNotFoundError(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mongodb queue boundary: %w", err)
		}
		res, err := b.queue.DeleteMany(ctx, bson.D{{Key: "msg_id", Value: bson.D{{Key: "$lt", Value: boundary.MessageID}}}})
		if err != nil {
			return fmt.Errorf("mongodb trim queue: %w", err)
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}

// ExpireMessages deletes old messages together with their queue entries.
func (b *Backend) ExpireMessages(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := b.atomically(ctx, func(ctx context.Context) error {
		msgIDs, err := idsOf[int64](ctx, b.msgs, bson.D{{Key: "sent_at", Value: bson.D{{Key: "$lt", Value: before}}}})
		if err != nil || len(msgIDs) == 0 {
			return err
		}
		if _, err := b.queue.DeleteMany(ctx, in("msg_id", msgIDs)); err != nil {
			return fmt.Errorf("mongodb expire queue: %w", err)
		}
		res, err := b.msgs.DeleteMany(ctx, in("_id", msgIDs))
		if err != nil {
			return fmt.Errorf("mongodb expire messages: %w", err)
		}
		n = res.DeletedCount
		return nil
	})
	return n, err
}

func (b *Backend) SweepOrphans(ctx context.Context) (int64, error) {
	var n int64
	err := b.atomically(ctx, func(ctx context.Context) error {
		n = 0
		var queued []int64
		if err := b.queue.Distinct(ctx, "msg_id", bson.D{}).Decode(&queued); err != nil {
			return fmt.Errorf("mongodb queued messages: %w", err)
		}
		existing, err := idsOf[int64](ctx, b.msgs, in("_id", queued))
		if err != nil {
			return err
		}
		found := make(map[int64]struct{}, len(existing))
		for _, id := range existing {
			found[id] = struct{}{}
		}
		missing := slices.DeleteFunc(slices.Clone(queued), func(id int64) bool {
			_, ok := found[id]
			return ok
		})
		if len(missing) > 0 {
			res, err := b.queue.DeleteMany(ctx, in("msg_id", missing))
			if err != nil {
				return fmt.Errorf("mongodb sweep orphan queue: %w", err)
			}
			n += res.DeletedCount
		}
		if existing == nil {
			existing = []int64{}
		}
		res, err := b.msgs.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$nin", Value: existing}}}})
		if err != nil {
			return fmt.Errorf("mongodb sweep orphan messages: %w", err)
		}
		n += res.DeletedCount
		return nil
	})
	return n, err
}
