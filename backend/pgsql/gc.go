package pgsql

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/makinacorpus/apubsub-sub000/pkg/pg"
)

func (b *Backend) exec(ctx context.Context, pass, sql string, args ...any) (int64, error) {
	tag, err := b.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("pgsql %s: %w", pass, err)
	}
	return tag.RowsAffected(), nil
}

func (b *Backend) SweepInactive(ctx context.Context) (int64, error) {
	return b.exec(ctx, "inactive sweep", `
		DELETE FROM apb_queue q
		USING apb_sub s
		WHERE s.id = q.sub_id AND NOT s.is_active`)
}

func (b *Backend) TrimQueue(ctx context.Context, maxSize int) (int64, error) {
	if maxSize <= 0 {
		return 0, nil
	}
	var boundary int64
	err := b.pool.QueryRow(ctx, `
		SELECT msg_id FROM apb_queue
		ORDER BY msg_id DESC
		OFFSET $1 LIMIT 1`, maxSize-1,
	).Scan(&boundary)
	if pg.IsNotFoundError(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("pgsql queue trim: %w", err)
	}
	return b.exec(ctx, "queue trim", `DELETE FROM apb_queue WHERE msg_id < $1`, boundary)
}

func (b *Backend) ExpireMessages(ctx context.Context, before time.Time) (int64, error) {
	return b.exec(ctx, "message expiry", `DELETE FROM apb_msg WHERE sent_at < $1`, before)
}

func (b *Backend) SweepOrphans(ctx context.Context) (int64, error) {
	var n int64
	err := b.tx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM apb_queue q
			WHERE NOT EXISTS (SELECT 1 FROM apb_msg m WHERE m.id = q.msg_id)`)
		if err != nil {
			return err
		}
		n += tag.RowsAffected()
		tag, err = tx.Exec(ctx, `
			DELETE FROM apb_msg m
			WHERE NOT EXISTS (SELECT 1 FROM apb_queue q WHERE q.msg_id = m.id)`)
		if err != nil {
			return err
		}
		n += tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pgsql orphan sweep: %w", err)
	}
	return n, nil
}
