package pgsql

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// selectRows runs the windowed query and converts each scanned row with conv.
func selectRows[R any, T any](ctx context.Context, q querier, query apubsub.Query, cols []any, distinct bool, conv func(R) T) ([]T, error) {
	ds, err := filtered(query)
	if err != nil {
		return nil, err
	}
	if distinct {
		ds = ds.SelectDistinct(cols...)
	} else {
		ds = ds.Select(cols...)
	}
	if ds, err = windowed(ds, query); err != nil {
		return nil, err
	}
	sql, args, err := toSQL(ds)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgsql fetch %s: %w", query.Kind, err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[R])
	if err != nil {
		return nil, fmt.Errorf("pgsql fetch %s: %w", query.Kind, err)
	}
	out := make([]T, len(found))
	for i, r := range found {
		out[i] = conv(r)
	}
	return out, nil
}

func total(ctx context.Context, q querier, query apubsub.Query) (int, error) {
	ds, err := filtered(query)
	if err != nil {
		return 0, err
	}
	counted := goqu.COUNT(goqu.Star())
	if query.Kind == apubsub.KindSubscriber {
		counted = goqu.COUNT(goqu.DISTINCT(goqu.I("s.subscriber")))
	}
	sql, args, err := toSQL(ds.Select(counted))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgsql count %s: %w", query.Kind, err)
	}
	return int(n), nil
}

// materialize freezes the keys matching query into a transaction scoped
// temporary table and returns its quoted name. Mutations then only ever
// key on that table.
func materialize(ctx context.Context, tx pgx.Tx, query apubsub.Query) (string, error) {
	key := keys[query.Kind]
	table := pgx.Identifier{"apb_tmp_" + strings.ReplaceAll(uuid.NewString(), "-", "")}.Sanitize()

	create := fmt.Sprintf(`CREATE TEMPORARY TABLE %s (id %s PRIMARY KEY) ON COMMIT DROP`, table, key.sqlType)
	if _, err := tx.Exec(ctx, create); err != nil {
		return "", fmt.Errorf("pgsql materialize %s: %w", query.Kind, err)
	}

	ds, err := filtered(query)
	if err != nil {
		return "", err
	}
	sql, args, err := toSQL(ds.SelectDistinct(goqu.I(key.column)))
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id) %s`, table, sql), args...); err != nil {
		return "", fmt.Errorf("pgsql materialize %s: %w", query.Kind, err)
	}
	return table, nil
}

type channelRunner struct{ b *Backend }

func (r channelRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Channel, error) {
	return selectRows(ctx, r.b.pool, q, channelColumns, false, func(row channelRow) *apubsub.Channel {
		return r.b.channel(row.data())
	})
}

func (r channelRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return total(ctx, r.b.pool, q)
}

func (r channelRunner) Delete(ctx context.Context, q apubsub.Query) error {
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT id FROM %s`, table))
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		return deleteChannels(ctx, tx, ids)
	})
	r.b.FlushCaches()
	return err
}

func (r channelRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	title, ok := values[apubsub.FieldChanTitle]
	if !ok {
		return nil
	}
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE apb_chan SET title = $1, updated_at = $2 WHERE id IN (SELECT id FROM %s)`, table),
			title, r.b.opts.Now(),
		)
		return err
	})
	r.b.channels.Flush()
	if err != nil {
		return fmt.Errorf("pgsql update channels: %w", err)
	}
	return nil
}

type subscriptionRunner struct{ b *Backend }

func (r subscriptionRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Subscription, error) {
	return selectRows(ctx, r.b.pool, q, subscriptionColumns, false, func(row subscriptionRow) *apubsub.Subscription {
		return r.b.subscription(row.data())
	})
}

func (r subscriptionRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return total(ctx, r.b.pool, q)
}

func (r subscriptionRunner) Delete(ctx context.Context, q apubsub.Query) error {
	var ids []int64
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`DELETE FROM apb_sub WHERE id IN (SELECT id FROM %s) RETURNING id`, table))
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		return err
	})
	if err != nil {
		r.b.subscriptions.Flush()
		return fmt.Errorf("pgsql delete subscriptions: %w", err)
	}
	r.b.subscriptions.Remove(ids...)
	return nil
}

func (r subscriptionRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	var touched []int64
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		now := r.b.opts.Now()
		if active, ok := values[apubsub.FieldSubStatus].(bool); ok {
			stamp := "deactivated_at"
			if active {
				stamp = "activated_at"
			}
			// only rows actually changing state get a new date
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`UPDATE apb_sub SET is_active = $1, %s = $2 WHERE is_active <> $1 AND id IN (SELECT id FROM %s)`, stamp, table),
				active, now,
			); err != nil {
				return err
			}
		}
		if accessed, ok := values[apubsub.FieldSubAccessed]; ok {
			if _, err := tx.Exec(ctx, fmt.Sprintf(
				`UPDATE apb_sub SET accessed_at = $1 WHERE id IN (SELECT id FROM %s)`, table),
				accessed,
			); err != nil {
				return err
			}
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`SELECT id FROM %s`, table))
		if err != nil {
			return err
		}
		touched, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		return err
	})
	if err != nil {
		r.b.subscriptions.Flush()
		return fmt.Errorf("pgsql update subscriptions: %w", err)
	}
	r.b.subscriptions.Remove(touched...)
	return nil
}

type subscriberRow struct {
	Subscriber string `db:"subscriber"`
}

type subscriberRunner struct{ b *Backend }

func (r subscriberRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Subscriber, error) {
	return selectRows(ctx, r.b.pool, q, []any{goqu.I("s.subscriber")}, true, func(row subscriberRow) *apubsub.Subscriber {
		return r.b.GetSubscriber(row.Subscriber)
	})
}

func (r subscriberRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return total(ctx, r.b.pool, q)
}

// Delete removes every subscription of the matching subscribers.
func (r subscriberRunner) Delete(ctx context.Context, q apubsub.Query) error {
	var ids []int64
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, fmt.Sprintf(`DELETE FROM apb_sub WHERE subscriber IN (SELECT id FROM %s) RETURNING id`, table))
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[int64])
		return err
	})
	if err != nil {
		r.b.subscriptions.Flush()
		return fmt.Errorf("pgsql delete subscribers: %w", err)
	}
	r.b.subscriptions.Remove(ids...)
	return nil
}

func (subscriberRunner) Update(context.Context, apubsub.Query, apubsub.Values) error {
	return apubsub.ErrUnsupportedOperation
}

type messageRunner struct{ b *Backend }

func (r messageRunner) Fetch(ctx context.Context, q apubsub.Query) ([]*apubsub.Message, error) {
	return selectRows(ctx, r.b.pool, q, messageColumns, false, func(row queueRow) *apubsub.Message {
		return apubsub.NewMessage(r.b, r.b.opts.Codec, row.data())
	})
}

func (r messageRunner) Total(ctx context.Context, q apubsub.Query) (int, error) {
	return total(ctx, r.b.pool, q)
}

// Delete removes the matching queue entries. Messages left without any
// entry are collected by the orphan sweep.
func (r messageRunner) Delete(ctx context.Context, q apubsub.Query) error {
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`DELETE FROM apb_queue WHERE id IN (SELECT id FROM %s)`, table))
		return err
	})
	if err != nil {
		return fmt.Errorf("pgsql delete queue entries: %w", err)
	}
	return nil
}

func (r messageRunner) Update(ctx context.Context, q apubsub.Query, values apubsub.Values) error {
	unread, ok := values[apubsub.FieldMsgUnread].(bool)
	if !ok {
		return nil
	}
	err := r.b.tx(ctx, func(tx pgx.Tx) error {
		table, err := materialize(ctx, tx, q)
		if err != nil {
			return err
		}
		if unread {
			_, err = tx.Exec(ctx, fmt.Sprintf(
				`UPDATE apb_queue SET unread = true, read_at = NULL WHERE id IN (SELECT id FROM %s)`, table))
		} else {
			_, err = tx.Exec(ctx, fmt.Sprintf(
				`UPDATE apb_queue SET unread = false, read_at = COALESCE(read_at, $1) WHERE id IN (SELECT id FROM %s)`, table),
				r.b.opts.Now(),
			)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("pgsql update queue entries: %w", err)
	}
	return nil
}
