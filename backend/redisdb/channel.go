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

func (b *Backend) channel(d *apubsub.ChannelData) *apubsub.Channel {
	return apubsub.NewChannel(b, *d)
}

func (b *Backend) CreateChannel(ctx context.Context, id, title string, ignoreErrors bool) (*apubsub.Channel, error) {
	var (
		out     *apubsub.ChannelData
		created bool
	)
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		existing, found, err := loadRecord[channelRecord](ctx, tx, b.chanKey(id))
		if err != nil {
			return nil, err
		}
		if found {
			if !ignoreErrors {
				return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
			}
			out, created = existing.data(), false
			return nil, nil
		}
		now := b.opts.Now()
		out, created = &apubsub.ChannelData{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, true
		return func(p redis.Pipeliner) error {
			p.SAdd(ctx, b.chansKey(), id)
			return setRecord(ctx, p, b.chanKey(id), newChannelRecord(out))
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		b.logger.LogAttrs(ctx, slog.LevelDebug, "channel created", logger.ChannelID(id))
	}
	return b.channel(out), nil
}

func (b *Backend) CreateChannels(ctx context.Context, ids []string, ignoreErrors bool) ([]*apubsub.Channel, error) {
	var out []*apubsub.ChannelData
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		existing, err := b.loadChannels(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		if !ignoreErrors {
			seen := make(map[string]struct{}, len(ids))
			for _, id := range ids {
				_, exists := existing[id]
				_, repeated := seen[id]
				if exists || repeated {
					return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
				}
				seen[id] = struct{}{}
			}
		}
		now := b.opts.Now()
		out = make([]*apubsub.ChannelData, 0, len(ids))
		var created []*apubsub.ChannelData
		for _, id := range ids {
			d, ok := existing[id]
			if !ok {
				d = &apubsub.ChannelData{ID: id, CreatedAt: now, UpdatedAt: now}
				existing[id] = d
				created = append(created, d)
			}
			out = append(out, d)
		}
		if len(created) == 0 {
			return nil, nil
		}
		return func(p redis.Pipeliner) error {
			for _, d := range created {
				p.SAdd(ctx, b.chansKey(), d.ID)
				if err := setRecord(ctx, p, b.chanKey(d.ID), newChannelRecord(d)); err != nil {
					return err
				}
			}
			return nil
		}, nil
	})
	if err != nil {
		return nil, err
	}
	chans := make([]*apubsub.Channel, len(out))
	for i, d := range out {
		chans[i] = b.channel(d)
	}
	return chans, nil
}

func (b *Backend) GetChannel(ctx context.Context, id string) (*apubsub.Channel, error) {
	rec, found, err := loadRecord[channelRecord](ctx, b.client, b.chanKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
	}
	return b.channel(rec.data()), nil
}

func (b *Backend) GetChannels(ctx context.Context, ids []string) ([]*apubsub.Channel, error) {
	byID, err := b.loadChannels(ctx, b.client, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*apubsub.Channel, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
		}
		out = append(out, b.channel(d))
	}
	return out, nil
}

func (b *Backend) DeleteChannel(ctx context.Context, id string, ignoreErrors bool) error {
	return b.DeleteChannels(ctx, []string{id}, ignoreErrors)
}

func (b *Backend) DeleteChannels(ctx context.Context, ids []string, ignoreErrors bool) error {
	err := b.atomically(ctx, func(tx *redis.Tx) (func(redis.Pipeliner) error, error) {
		existing, err := b.loadChannels(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
		targets := make([]string, 0, len(existing))
		for _, id := range ids {
			if _, ok := existing[id]; !ok {
				if !ignoreErrors {
					return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
				}
				continue
			}
			if !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		p := b.newPlan()
		if err := p.dropChannels(ctx, tx, targets...); err != nil {
			return nil, err
		}
		return p.commit(ctx), nil
	})
	if err != nil {
		return err
	}
	b.logger.LogAttrs(ctx, slog.LevelDebug, "channels deleted", logger.ChannelIDs(ids))
	return nil
}

func (b *Backend) FetchChannels(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Channel], error) {
	return apubsub.NewCursor[*apubsub.Channel](apubsub.KindChannel, conds, channelRunner{b})
}
