package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func query(t *testing.T, k apubsub.Kind, conds apubsub.Conditions, sorts ...apubsub.Sort) apubsub.Query {
	t.Helper()
	preds, err := conds.Predicates(k)
	require.NoError(t, err)
	return apubsub.Query{Kind: k, Predicates: preds, Sorts: k.OrderBy(sorts)}
}

func TestConditionNullSemantics(t *testing.T) {
	tests := []struct {
		name string
		pred apubsub.Predicate
		want bson.D
	}{
		{
			"equal null",
			apubsub.Predicate{Field: apubsub.FieldMsgType, Operator: apubsub.OpEqual, Values: []any{nil}},
			bson.D{{Key: "type", Value: nil}},
		},
		{
			"not equal excludes null",
			apubsub.Predicate{Field: apubsub.FieldMsgType, Operator: apubsub.OpNotEqual, Values: []any{"a"}},
			bson.D{{Key: "type", Value: bson.D{{Key: "$nin", Value: bson.A{"a", nil}}}}},
		},
		{
			"not equal null",
			apubsub.Predicate{Field: apubsub.FieldMsgType, Operator: apubsub.OpNotEqual, Values: []any{nil}},
			bson.D{{Key: "type", Value: bson.D{{Key: "$ne", Value: nil}}}},
		},
		{
			"in drops null members",
			apubsub.Predicate{Field: apubsub.FieldMsgType, Operator: apubsub.OpIn, Values: []any{"a", nil}},
			bson.D{{Key: "type", Value: bson.D{{Key: "$in", Value: bson.A{"a"}}}}},
		},
		{
			"not in excludes null",
			apubsub.Predicate{Field: apubsub.FieldMsgType, Operator: apubsub.OpNotIn, Values: []any{"a"}},
			bson.D{{Key: "type", Value: bson.D{{Key: "$nin", Value: bson.A{"a", nil}}}}},
		},
		{
			"comparison",
			apubsub.Predicate{Field: apubsub.FieldMsgLevel, Operator: apubsub.OpGreaterOrEqual, Values: []any{int64(2)}},
			bson.D{{Key: "level", Value: bson.D{{Key: "$gte", Value: int64(2)}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := path(apubsub.KindMessage, tt.pred.Field)
			require.NoError(t, err)
			assert.Equal(t, tt.want, condition(p, tt.pred))
		})
	}
}

func TestFilterMapsFieldsPerKind(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q := query(t, apubsub.KindSubscription, apubsub.Conditions{
		apubsub.FieldSubID:      int64(3),
		apubsub.FieldSubCreated: apubsub.Lt(at),
	})
	f, err := filter(q)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "created_at", Value: bson.D{{Key: "$lt", Value: at}}}},
		bson.D{{Key: "_id", Value: int64(3)}},
	}}}, f)

	q = query(t, apubsub.KindMessage, apubsub.Conditions{apubsub.FieldQueueID: int64(3)})
	f, err = filter(q)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "_id", Value: int64(3)}}}}}, f)

	empty, err := filter(query(t, apubsub.KindChannel, nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSortsAppendTieBreaks(t *testing.T) {
	q := query(t, apubsub.KindMessage, nil, apubsub.Sort{Field: apubsub.FieldMsgLevel, Direction: apubsub.Desc})
	order, err := sorts(q)
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "level", Value: -1},
		{Key: "msg_id", Value: 1},
		{Key: "_id", Value: 1},
	}, order)
}

func TestEmptyStringIsNull(t *testing.T) {
	q := query(t, apubsub.KindSubscription, apubsub.Conditions{apubsub.FieldSubscriberName: ""})
	f, err := filter(q)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "subscriber", Value: nil}}}}}, f)
}
