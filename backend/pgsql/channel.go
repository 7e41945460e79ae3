package pgsql

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jackc/pgx/v5"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/pkg/logger"
	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
)

const channelSelect = `SELECT id, title, created_at, updated_at FROM apb_chan`

func (b *Backend) channel(d apubsub.ChannelData) *apubsub.Channel {
	b.channels.Put(d.ID, d)
	return apubsub.NewChannel(b, d)
}

func (b *Backend) CreateChannel(ctx context.Context, id, title string, ignoreErrors bool) (*apubsub.Channel, error) {
	now := b.opts.Now()
	rows, err := b.pool.Query(ctx, `
		INSERT INTO apb_chan (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING
		RETURNING id, title, created_at, updated_at`,
		id, title, now,
	)
	if err != nil {
		return nil, fmt.Errorf("pgsql create channel: %w", err)
	}
	created, err := pgx.CollectRows(rows, pgx.RowToStructByName[channelRow])
	if err != nil {
		return nil, fmt.Errorf("pgsql create channel: %w", err)
	}
	if len(created) == 1 {
		b.logger.LogAttrs(ctx, slog.LevelDebug, "channel created", logger.ChannelID(id))
		return b.channel(created[0].data()), nil
	}
	if !ignoreErrors {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
	}
	// lost the race or already there: read what won
	return b.loadChannel(ctx, b.pool, id)
}

func (b *Backend) loadChannel(ctx context.Context, q querier, id string) (*apubsub.Channel, error) {
	rows, err := q.Query(ctx, channelSelect+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pgsql load channel: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[channelRow])
	if pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
	}
	if err != nil {
		return nil, fmt.Errorf("pgsql load channel: %w", err)
	}
	return b.channel(row.data()), nil
}

func (b *Backend) CreateChannels(ctx context.Context, ids []string, ignoreErrors bool) ([]*apubsub.Channel, error) {
	var out []*apubsub.Channel
	err := b.tx(ctx, func(tx pgx.Tx) error {
		now := b.opts.Now()
		for _, id := range ids {
			tag, err := tx.Exec(ctx, `
				INSERT INTO apb_chan (id, title, created_at, updated_at)
				VALUES ($1, '', $2, $2)
				ON CONFLICT (id) DO NOTHING`,
				id, now,
			)
			if err != nil {
				return fmt.Errorf("pgsql create channels: %w", err)
			}
			if tag.RowsAffected() == 0 && !ignoreErrors {
				return fmt.Errorf("%w: %s", apubsub.ErrChannelAlreadyExists, id)
			}
		}
		var err error
		out, err = b.loadChannels(ctx, tx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// loadChannels returns the channels in ids order, failing on the first missing one.
func (b *Backend) loadChannels(ctx context.Context, q querier, ids []string) ([]*apubsub.Channel, error) {
	rows, err := q.Query(ctx, channelSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("pgsql load channels: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[channelRow])
	if err != nil {
		return nil, fmt.Errorf("pgsql load channels: %w", err)
	}
	byID := make(map[string]apubsub.ChannelData, len(found))
	for _, r := range found {
		byID[r.ID] = r.data()
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

func (b *Backend) GetChannel(ctx context.Context, id string) (*apubsub.Channel, error) {
	if d, ok := b.channels.Get(id); ok {
		return apubsub.NewChannel(b, d), nil
	}
	return b.loadChannel(ctx, b.pool, id)
}

func (b *Backend) GetChannels(ctx context.Context, ids []string) ([]*apubsub.Channel, error) {
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := b.channels.Get(id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if _, err := b.loadChannels(ctx, b.pool, missing); err != nil {
			return nil, err
		}
	}
	out := make([]*apubsub.Channel, 0, len(ids))
	for _, id := range ids {
		d, ok := b.channels.Get(id)
		if !ok {
			// evicted in between
			return b.loadChannels(ctx, b.pool, ids)
		}
		out = append(out, apubsub.NewChannel(b, d))
	}
	return out, nil
}

func (b *Backend) DeleteChannel(ctx context.Context, id string, ignoreErrors bool) error {
	return b.DeleteChannels(ctx, []string{id}, ignoreErrors)
}

func (b *Backend) DeleteChannels(ctx context.Context, ids []string, ignoreErrors bool) error {
	err := b.tx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id FROM apb_chan WHERE id = ANY($1) FOR UPDATE`, ids)
		if err != nil {
			return fmt.Errorf("pgsql delete channels: %w", err)
		}
		existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("pgsql delete channels: %w", err)
		}
		if !ignoreErrors {
			for _, id := range ids {
				if !slices.Contains(existing, id) {
					return fmt.Errorf("%w: %s", apubsub.ErrChannelDoesNotExist, id)
				}
			}
		}
		return deleteChannels(ctx, tx, existing)
	})
	// cascades are wide: never trust cached children afterwards
	b.FlushCaches()
	if err != nil {
		return err
	}
	b.logger.LogAttrs(ctx, slog.LevelDebug, "channels deleted", logger.ChannelIDs(ids))
	return nil
}

// deleteChannels removes channels, their subscriptions and queue entries
// (foreign key cascades), then the messages they leave unqueued.
func deleteChannels(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `DELETE FROM apb_chan WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("pgsql delete channels: %w", err)
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM apb_msg m
		WHERE m.chan_ids && $1::text[]
		AND NOT EXISTS (SELECT 1 FROM apb_queue q WHERE q.msg_id = m.id)`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("pgsql delete channel messages: %w", err)
	}
	return nil
}

func (b *Backend) FetchChannels(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Channel], error) {
	return apubsub.NewCursor[*apubsub.Channel](apubsub.KindChannel, conds, channelRunner{b})
}
