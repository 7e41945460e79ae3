package pgsql

import (
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

var dialect = goqu.Dialect("postgres")

// columns maps every queryable field to its column, per cursor kind.
var columns = map[apubsub.Kind]map[apubsub.Field]string{
	apubsub.KindChannel: {
		apubsub.FieldChannelID:   "c.id",
		apubsub.FieldChanTitle:   "c.title",
		apubsub.FieldChanCreated: "c.created_at",
		apubsub.FieldChanUpdated: "c.updated_at",
	},
	apubsub.KindSubscription: {
		apubsub.FieldSubID:          "s.id",
		apubsub.FieldChannelID:      "s.chan_id",
		apubsub.FieldSubStatus:      "s.is_active",
		apubsub.FieldSubCreated:     "s.created_at",
		apubsub.FieldSubAccessed:    "s.accessed_at",
		apubsub.FieldSubscriberName: "s.subscriber",
	},
	apubsub.KindSubscriber: {
		apubsub.FieldSubscriberName: "s.subscriber",
		apubsub.FieldChannelID:      "s.chan_id",
		apubsub.FieldSubID:          "s.id",
	},
	apubsub.KindMessage: {
		apubsub.FieldChannelID:      "s.chan_id",
		apubsub.FieldMsgID:          "m.id",
		apubsub.FieldMsgSent:        "m.sent_at",
		apubsub.FieldMsgType:        "m.type",
		apubsub.FieldMsgLevel:       "m.level",
		apubsub.FieldMsgUnread:      "q.unread",
		apubsub.FieldMsgOrigin:      "m.origin",
		apubsub.FieldQueueID:        "q.id",
		apubsub.FieldSubID:          "q.sub_id",
		apubsub.FieldSubscriberName: "s.subscriber",
	},
}

// keys is the column identifying a row of each kind, and its SQL type.
var keys = map[apubsub.Kind]struct{ column, sqlType string }{
	apubsub.KindChannel:      {"c.id", "text"},
	apubsub.KindSubscription: {"s.id", "bigint"},
	apubsub.KindSubscriber:   {"s.subscriber", "text"},
	apubsub.KindMessage:      {"q.id", "bigint"},
}

var (
	channelColumns = []any{
		goqu.I("c.id"), goqu.I("c.title"), goqu.I("c.created_at"), goqu.I("c.updated_at"),
	}
	subscriptionColumns = []any{
		goqu.I("s.id"), goqu.I("s.chan_id"), goqu.I("s.subscriber"), goqu.I("s.is_active"),
		goqu.I("s.created_at"), goqu.I("s.activated_at"), goqu.I("s.deactivated_at"), goqu.I("s.accessed_at"),
	}
	messageColumns = []any{
		goqu.I("m.id"), goqu.I("m.chan_ids"), goqu.I("m.contents"), goqu.I("m.type"),
		goqu.I("m.level"), goqu.I("m.origin"), goqu.I("m.sent_at"),
		goqu.I("q.id").As("queue_id"), goqu.I("q.sub_id"), goqu.I("s.chan_id"),
		goqu.I("s.subscriber"), goqu.I("q.unread"), goqu.I("q.read_at"),
	}
)

// source is the FROM clause of each kind.
func source(k apubsub.Kind) *goqu.SelectDataset {
	switch k {
	case apubsub.KindChannel:
		return dialect.From(goqu.T("apb_chan").As("c"))
	case apubsub.KindSubscription:
		return dialect.From(goqu.T("apb_sub").As("s"))
	case apubsub.KindSubscriber:
		return dialect.From(goqu.T("apb_sub").As("s")).Where(goqu.I("s.subscriber").IsNotNull())
	}
	return dialect.From(goqu.T("apb_queue").As("q")).
		Join(goqu.T("apb_msg").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("q.msg_id")))).
		Join(goqu.T("apb_sub").As("s"), goqu.On(goqu.I("s.id").Eq(goqu.I("q.sub_id"))))
}

// filtered applies the query predicates to the kind source.
func filtered(q apubsub.Query) (*goqu.SelectDataset, error) {
	ds := source(q.Kind).Prepared(true)
	for _, p := range q.Predicates {
		col, ok := columns[q.Kind][p.Field]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", apubsub.ErrUnsupportedFilterField, p.Field, q.Kind)
		}
		ds = ds.Where(condition(goqu.I(col), p))
	}
	return ds, nil
}

// windowed adds the order and page window.
func windowed(ds *goqu.SelectDataset, q apubsub.Query) (*goqu.SelectDataset, error) {
	order := make([]exp.OrderedExpression, 0, len(q.Sorts))
	for _, s := range q.Sorts {
		col, ok := columns[q.Kind][s.Field]
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", apubsub.ErrUnsupportedSortField, s.Field, q.Kind)
		}
		// NULL sorts first ascending, as in every other engine
		if s.Direction == apubsub.Desc {
			order = append(order, goqu.I(col).Desc().NullsLast())
		} else {
			order = append(order, goqu.I(col).Asc().NullsFirst())
		}
	}
	ds = ds.Order(order...)
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	if q.Offset > 0 {
		ds = ds.Offset(uint(q.Offset))
	}
	return ds, nil
}

// condition translates a predicate with SQL NULL semantics. NULL members of
// IN lists never match.
func condition(col exp.IdentifierExpression, p apubsub.Predicate) exp.Expression {
	switch p.Operator {
	case apubsub.OpEqual:
		if p.Value() == nil {
			return col.IsNull()
		}
		return col.Eq(arg(p.Value()))
	case apubsub.OpNotEqual:
		if p.Value() == nil {
			return col.IsNotNull()
		}
		return col.Neq(arg(p.Value()))
	case apubsub.OpLess:
		return col.Lt(arg(p.Value()))
	case apubsub.OpLessOrEqual:
		return col.Lte(arg(p.Value()))
	case apubsub.OpGreater:
		return col.Gt(arg(p.Value()))
	case apubsub.OpGreaterOrEqual:
		return col.Gte(arg(p.Value()))
	}

	values := make([]any, 0, len(p.Values))
	for _, v := range p.Values {
		if v != nil {
			values = append(values, arg(v))
		}
	}
	if p.Operator == apubsub.OpIn {
		if len(values) == 0 {
			return goqu.L("FALSE")
		}
		return col.In(values...)
	}
	if len(values) == 0 {
		return col.IsNotNull()
	}
	return col.NotIn(values...)
}

// arg normalizes times to UTC for stable prepared arguments.
func arg(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

// toSQL renders a dataset with positional arguments.
func toSQL(ds interface {
	ToSQL() (string, []any, error)
}) (string, []any, error) {
	sql, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("pgsql build query: %w", err)
	}
	return sql, args, nil
}
