package apubsub_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func TestConditionsPredicates(t *testing.T) {
	t.Run("bare value is an equality", func(t *testing.T) {
		preds, err := apubsub.Conditions{apubsub.FieldMsgLevel: 3}.Predicates(apubsub.KindMessage)
		require.NoError(t, err)
		require.Len(t, preds, 1)
		assert.Equal(t, apubsub.OpEqual, preds[0].Operator)
		assert.Equal(t, []any{int64(3)}, preds[0].Values)
	})

	t.Run("slice is a membership test", func(t *testing.T) {
		preds, err := apubsub.Conditions{apubsub.FieldChannelID: []string{"a", "b"}}.Predicates(apubsub.KindChannel)
		require.NoError(t, err)
		require.Len(t, preds, 1)
		assert.Equal(t, apubsub.OpIn, preds[0].Operator)
		assert.Equal(t, []any{"a", "b"}, preds[0].Values)
	})

	t.Run("equality on a list becomes membership", func(t *testing.T) {
		preds, err := apubsub.Conditions{
			apubsub.FieldMsgType: apubsub.Neq([]string{"a"}),
		}.Predicates(apubsub.KindMessage)
		require.NoError(t, err)
		require.Len(t, preds, 1)
		assert.Equal(t, apubsub.OpNotIn, preds[0].Operator)
	})

	t.Run("empty not-in is dropped", func(t *testing.T) {
		preds, err := apubsub.Conditions{apubsub.FieldMsgType: apubsub.NotIn[string]()}.Predicates(apubsub.KindMessage)
		require.NoError(t, err)
		assert.Empty(t, preds)
	})

	t.Run("empty string is null on nullable fields", func(t *testing.T) {
		preds, err := apubsub.Conditions{
			apubsub.FieldMsgOrigin: "",
			apubsub.FieldMsgType:   apubsub.In("", "a"),
		}.Predicates(apubsub.KindMessage)
		require.NoError(t, err)
		require.Len(t, preds, 2)
		assert.Equal(t, apubsub.FieldMsgOrigin, preds[0].Field)
		assert.Equal(t, []any{nil}, preds[0].Values)
		assert.Equal(t, []any{nil, "a"}, preds[1].Values)
	})

	t.Run("empty string is kept on titles", func(t *testing.T) {
		preds, err := apubsub.Conditions{apubsub.FieldChanTitle: ""}.Predicates(apubsub.KindChannel)
		require.NoError(t, err)
		assert.Equal(t, []any{""}, preds[0].Values)
	})

	t.Run("predicates are sorted by field", func(t *testing.T) {
		preds, err := apubsub.Conditions{
			apubsub.FieldSubStatus:  true,
			apubsub.FieldChannelID:  "a",
			apubsub.FieldSubCreated: apubsub.Gt(time.Now()),
		}.Predicates(apubsub.KindSubscription)
		require.NoError(t, err)
		fields := make([]apubsub.Field, 0, len(preds))
		for _, p := range preds {
			fields = append(fields, p.Field)
		}
		assert.Equal(t, []apubsub.Field{apubsub.FieldChannelID, apubsub.FieldSubCreated, apubsub.FieldSubStatus}, fields)
	})

	t.Run("pointers are dereferenced", func(t *testing.T) {
		at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		var origin *string
		preds, err := apubsub.Conditions{
			apubsub.FieldMsgSent:   apubsub.Lte(&at),
			apubsub.FieldMsgOrigin: origin,
		}.Predicates(apubsub.KindMessage)
		require.NoError(t, err)
		assert.Equal(t, []any{nil}, preds[0].Values)
		assert.Equal(t, []any{at}, preds[1].Values)
	})
}

func TestConditionsErrors(t *testing.T) {
	tests := []struct {
		name  string
		kind  apubsub.Kind
		conds apubsub.Conditions
		want  error
	}{
		{"unknown field for kind", apubsub.KindChannel, apubsub.Conditions{apubsub.FieldMsgType: "a"}, apubsub.ErrUnsupportedFilterField},
		{"comparison on a list", apubsub.KindMessage, apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Gt([]int{1})}, apubsub.ErrInvalidOperator},
		{"comparison on null", apubsub.KindMessage, apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Lt(nil)}, apubsub.ErrInvalidOperator},
		{"unknown operator", apubsub.KindMessage, apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Op{Operator: "~", Value: 1}}, apubsub.ErrInvalidOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.conds.Predicates(tt.kind)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKindOrderBy(t *testing.T) {
	t.Run("natural order when unsorted", func(t *testing.T) {
		assert.Equal(t, []apubsub.Sort{
			{Field: apubsub.FieldMsgSent, Direction: apubsub.Asc},
			{Field: apubsub.FieldMsgID, Direction: apubsub.Asc},
			{Field: apubsub.FieldQueueID, Direction: apubsub.Asc},
		}, apubsub.KindMessage.OrderBy(nil))
	})

	t.Run("mentioned tie-breaks are not repeated", func(t *testing.T) {
		got := apubsub.KindChannel.OrderBy([]apubsub.Sort{{Field: apubsub.FieldChannelID, Direction: apubsub.Desc}})
		assert.Equal(t, []apubsub.Sort{{Field: apubsub.FieldChannelID, Direction: apubsub.Desc}}, got)
	})
}
