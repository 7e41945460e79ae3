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

func (b *Backend) Send(ctx context.Context, channelIDs []string, contents any, opts ...apubsub.SendOption) (*apubsub.Message, error) {
	data, err := apubsub.EncodeContents(b.opts.Codec, contents)
	if err != nil {
		return nil, err
	}
	so := apubsub.NewSendOptions(b.opts.Now(), opts...)
	excluded := so.Excluded
	if excluded == nil {
		excluded = []int64{}
	}

	var (
		msg    *apubsub.MessageData
		queued int64
	)
	err = b.tx(ctx, func(tx pgx.Tx) error {
		// shared locks keep the targets alive until commit
		rows, err := tx.Query(ctx, `SELECT id FROM apb_chan WHERE id = ANY($1) FOR SHARE`, channelIDs)
		if err != nil {
			return err
		}
		existing, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		targets := make([]string, 0, len(existing))
		for _, id := range channelIDs {
			if slices.Contains(existing, id) && !slices.Contains(targets, id) {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return nil
		}

		msg = &apubsub.MessageData{
			ChannelIDs: targets,
			Contents:   data,
			Type:       so.Type,
			Level:      so.Level,
			Origin:     so.Origin,
			SentAt:     so.SentAt,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO apb_msg (chan_ids, contents, type, level, origin, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			targets, data, nullString(so.Type), so.Level, nullString(so.Origin), so.SentAt,
		).Scan(&msg.ID)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO apb_queue (msg_id, sub_id)
			SELECT $1, s.id FROM apb_sub s
			WHERE s.chan_id = ANY($2) AND s.is_active AND NOT (s.id = ANY($3))
			ORDER BY s.id`,
			msg.ID, targets, excluded,
		)
		if err != nil {
			return err
		}
		queued = tag.RowsAffected()

		_, err = tx.Exec(ctx, `UPDATE apb_chan SET updated_at = $1 WHERE id = ANY($2)`, b.opts.Now(), targets)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("pgsql send: %w", err)
	}
	if msg == nil {
		b.logger.LogAttrs(ctx, slog.LevelDebug, "send skipped, no existing channel", logger.ChannelIDs(channelIDs))
		return nil, nil
	}
	for _, id := range msg.ChannelIDs {
		b.channels.Remove(id)
	}

	b.logger.LogAttrs(ctx, slog.LevelDebug, "message sent",
		logger.MessageID(msg.ID),
		logger.ChannelIDs(msg.ChannelIDs),
		slog.Int64("queued", queued),
	)
	b.collector.AfterSend(ctx)
	return apubsub.NewMessage(b, b.opts.Codec, *msg), nil
}

func (b *Backend) GetMessage(ctx context.Context, id int64) (*apubsub.Message, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT id, chan_ids, contents, type, level, origin, sent_at
		FROM apb_msg WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("pgsql get message: %w", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[messageRow])
	if pg.IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %d", apubsub.ErrMessageDoesNotExist, id)
	}
	if err != nil {
		return nil, fmt.Errorf("pgsql get message: %w", err)
	}
	return apubsub.NewMessage(b, b.opts.Codec, row.data()), nil
}

func (b *Backend) Fetch(conds apubsub.Conditions) (apubsub.Cursor[*apubsub.Message], error) {
	return apubsub.NewCursor[*apubsub.Message](apubsub.KindMessage, conds, messageRunner{b})
}

func (b *Backend) SetUnread(ctx context.Context, queueID int64, unread bool) error {
	var err error
	if unread {
		_, err = b.pool.Exec(ctx, `UPDATE apb_queue SET unread = true, read_at = NULL WHERE id = $1`, queueID)
	} else {
		_, err = b.pool.Exec(ctx, `UPDATE apb_queue SET unread = false, read_at = COALESCE(read_at, $2) WHERE id = $1`, queueID, b.opts.Now())
	}
	if err != nil {
		return fmt.Errorf("pgsql set unread: %w", err)
	}
	return nil
}
