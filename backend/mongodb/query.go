package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// paths maps fields to document paths, per cursor kind.
var paths = map[apubsub.Kind]map[apubsub.Field]string{
	apubsub.KindChannel: {
		apubsub.FieldChannelID:   "_id",
		apubsub.FieldChanTitle:   "title",
		apubsub.FieldChanCreated: "created_at",
		apubsub.FieldChanUpdated: "updated_at",
	},
	apubsub.KindSubscription: {
		apubsub.FieldSubID:          "_id",
		apubsub.FieldChannelID:      "chan_id",
		apubsub.FieldSubStatus:      "active",
		apubsub.FieldSubCreated:     "created_at",
		apubsub.FieldSubAccessed:    "accessed_at",
		apubsub.FieldSubscriberName: "subscriber",
	},
	apubsub.KindSubscriber: {
		apubsub.FieldSubID:          "_id",
		apubsub.FieldChannelID:      "chan_id",
		apubsub.FieldSubscriberName: "subscriber",
	},
	apubsub.KindMessage: {
		apubsub.FieldChannelID:      "chan_id",
		apubsub.FieldMsgID:          "msg_id",
		apubsub.FieldMsgSent:        "sent_at",
		apubsub.FieldMsgType:        "type",
		apubsub.FieldMsgLevel:       "level",
		apubsub.FieldMsgUnread:      "unread",
		apubsub.FieldMsgOrigin:      "origin",
		apubsub.FieldQueueID:        "_id",
		apubsub.FieldSubID:          "sub_id",
		apubsub.FieldSubscriberName: "subscriber",
	},
}

func path(k apubsub.Kind, f apubsub.Field) (string, error) {
	p, ok := paths[k][f]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", apubsub.ErrUnsupportedFilterField, f, k)
	}
	return p, nil
}

// nonNil drops null members: they never match a membership test.
func nonNil(vs []any) bson.A {
	out := make(bson.A, 0, len(vs))
	for _, v := range vs {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

// condition translates a predicate. Missing and null attributes only
// match an equality against null, like SQL NULL.
func condition(p string, pred apubsub.Predicate) bson.D {
	v := pred.Value()
	var expr any
	switch pred.Operator {
	case apubsub.OpEqual:
		expr = v
	case apubsub.OpNotEqual:
		if v == nil {
			expr = bson.D{{Key: "$ne", Value: nil}}
		} else {
			expr = bson.D{{Key: "$nin", Value: bson.A{v, nil}}}
		}
	case apubsub.OpIn:
		expr = bson.D{{Key: "$in", Value: nonNil(pred.Values)}}
	case apubsub.OpNotIn:
		expr = bson.D{{Key: "$nin", Value: append(nonNil(pred.Values), nil)}}
	case apubsub.OpLess:
		expr = bson.D{{Key: "$lt", Value: v}}
	case apubsub.OpLessOrEqual:
		expr = bson.D{{Key: "$lte", Value: v}}
	case apubsub.OpGreater:
		expr = bson.D{{Key: "$gt", Value: v}}
	case apubsub.OpGreaterOrEqual:
		expr = bson.D{{Key: "$gte", Value: v}}
	}
	return bson.D{{Key: p, Value: expr}}
}

// filter translates the predicates of q, plus any extra clauses.
func filter(q apubsub.Query, extra ...bson.D) (bson.D, error) {
	clauses := make(bson.A, 0, len(q.Predicates)+len(extra))
	for _, pred := range q.Predicates {
		p, err := path(q.Kind, pred.Field)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, condition(p, pred))
	}
	for _, e := range extra {
		clauses = append(clauses, e)
	}
	if len(clauses) == 0 {
		return bson.D{}, nil
	}
	return bson.D{{Key: "$and", Value: clauses}}, nil
}

// sorts translates the effective order of q. Nulls sort first ascending.
func sorts(q apubsub.Query) (bson.D, error) {
	out := make(bson.D, 0, len(q.Sorts))
	for _, s := range q.Sorts {
		p, err := path(q.Kind, s.Field)
		if err != nil {
			return nil, fmt.Errorf("%w: %s on %s", apubsub.ErrUnsupportedSortField, s.Field, q.Kind)
		}
		dir := 1
		if s.Direction == apubsub.Desc {
			dir = -1
		}
		out = append(out, bson.E{Key: p, Value: dir})
	}
	return out, nil
}

// find runs the windowed query of q on coll and decodes every document.
func find[D any](ctx context.Context, coll *mongo.Collection, q apubsub.Query) ([]D, error) {
	f, err := filter(q)
	if err != nil {
		return nil, err
	}
	order, err := sorts(q)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(order)
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return decodeAll[D](ctx, coll, f, opts)
}

func decodeAll[D any](ctx context.Context, coll *mongo.Collection, f any, opts ...options.Lister[options.FindOptions]) ([]D, error) {
	cur, err := coll.Find(ctx, f, opts...)
	if err != nil {
		return nil, fmt.Errorf("mongodb find %s: %w", coll.Name(), err)
	}
	var out []D
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb find %s: %w", coll.Name(), err)
	}
	return out, nil
}

// ids materializes the identifiers of the documents matching f.
func idsOf[K any](ctx context.Context, coll *mongo.Collection, f any) ([]K, error) {
	docs, err := decodeAll[idDoc[K]](ctx, coll, f, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := make([]K, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out, nil
}

func in[K any](p string, values []K) bson.D {
	if values == nil {
		values = []K{}
	}
	return bson.D{{Key: p, Value: bson.D{{Key: "$in", Value: values}}}}
}

func count(ctx context.Context, coll *mongo.Collection, q apubsub.Query) (int, error) {
	f, err := filter(q)
	if err != nil {
		return 0, err
	}
	n, err := coll.CountDocuments(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("mongodb count %s: %w", coll.Name(), err)
	}
	return int(n), nil
}
