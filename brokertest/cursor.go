package brokertest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func testCursor(t *testing.T, open Opener) {
	t.Run("deterministic default order", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")

		// the clock is frozen: every message shares the same date
		sent := make([]int64, 0, 5)
		for range 5 {
			sent = append(sent, mustSend(t, ctx, b, []string{"foo"}, "x").ID)
		}

		for range 3 {
			cursor, err := s.Fetch(nil)
			assert.Equal(t, sent, messageIDs(fetch(t, ctx, cursor, err)))
		}
	})

	t.Run("sort limit and offset", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")
		sent := make([]int64, 0, 5)
		for i := range 5 {
			sent = append(sent, mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithLevel(i%2)).ID)
			clock.Advance(time.Second)
		}

		cursor, err := s.Fetch(nil)
		require.NoError(t, err)
		require.NoError(t, cursor.AddSort(apubsub.FieldMsgSent, apubsub.Desc))
		require.NoError(t, cursor.SetLimit(2))
		require.NoError(t, cursor.SetOffset(1))
		msgs, err := cursor.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{sent[3], sent[2]}, messageIDs(msgs))

		n, err := cursor.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		total, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, total)

		again, err := cursor.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, messageIDs(msgs), messageIDs(again), "fetch is memoized")

		require.ErrorIs(t, cursor.SetLimit(3), apubsub.ErrCursorAlreadyRun)
		require.ErrorIs(t, cursor.SetOffset(3), apubsub.ErrCursorAlreadyRun)

		cursor, err = s.Fetch(nil)
		require.NoError(t, err)
		require.NoError(t, cursor.AddSort(apubsub.FieldMsgLevel, apubsub.Desc))
		msgs, err = cursor.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{sent[1], sent[3], sent[0], sent[2], sent[4]}, messageIDs(msgs), "ties fall back to message id")

		cursor, err = s.Fetch(nil)
		require.NoError(t, err)
		require.ErrorIs(t, cursor.SetLimit(-1), apubsub.ErrInvalidValue)
		require.ErrorIs(t, cursor.AddSort(apubsub.FieldChanTitle, apubsub.Asc), apubsub.ErrUnsupportedSortField)
	})

	t.Run("operators", func(t *testing.T) {
		ctx, b, clock := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")
		m0 := mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithLevel(1), apubsub.WithType("info"))
		clock.Advance(time.Minute)
		m1 := mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithLevel(5), apubsub.WithType("alert"), apubsub.WithOrigin("cli"))
		clock.Advance(time.Minute)
		m2 := mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithLevel(10))

		tests := []struct {
			name  string
			conds apubsub.Conditions
			want  []int64
		}{
			{"greater", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Gt(1)}, []int64{m1.ID, m2.ID}},
			{"greater or equal", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Gte(5)}, []int64{m1.ID, m2.ID}},
			{"less", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Lt(5)}, []int64{m0.ID}},
			{"less or equal", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Lte(5)}, []int64{m0.ID, m1.ID}},
			{"in", apubsub.Conditions{apubsub.FieldMsgLevel: []int{1, 10}}, []int64{m0.ID, m2.ID}},
			{"not in", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.NotIn(1, 10)}, []int64{m1.ID}},
			{"empty in", apubsub.Conditions{apubsub.FieldMsgLevel: []int{}}, []int64{}},
			{"empty not in", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.NotIn[int]()}, []int64{m0.ID, m1.ID, m2.ID}},
			{"null type", apubsub.Conditions{apubsub.FieldMsgType: nil}, []int64{m2.ID}},
			{"not null type", apubsub.Conditions{apubsub.FieldMsgType: apubsub.Neq(nil)}, []int64{m0.ID, m1.ID}},
			{"not equal skips null", apubsub.Conditions{apubsub.FieldMsgType: apubsub.Neq("info")}, []int64{m1.ID}},
			{"empty string is null", apubsub.Conditions{apubsub.FieldMsgOrigin: ""}, []int64{m0.ID, m2.ID}},
			{"date", apubsub.Conditions{apubsub.FieldMsgSent: apubsub.Gte(m1.SentAt)}, []int64{m1.ID, m2.ID}},
			{"combined", apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Gt(1), apubsub.FieldMsgType: "alert"}, []int64{m1.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cursor, err := s.Fetch(tt.conds)
				assert.Equal(t, tt.want, append([]int64{}, messageIDs(fetch(t, ctx, cursor, err))...))
			})
		}

		_, err := s.Fetch(apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Gt([]int{1})})
		require.ErrorIs(t, err, apubsub.ErrInvalidOperator)
		_, err = s.Fetch(apubsub.Conditions{apubsub.FieldChanTitle: "x"})
		require.ErrorIs(t, err, apubsub.ErrUnsupportedFilterField)
	})

	t.Run("delete through cursor", func(t *testing.T) {
		ctx, b, _ := setup(t, open)
		mustChannel(t, ctx, b, "foo")
		s := mustSubscribe(t, ctx, b, "foo", "bar")
		for i := range 4 {
			mustSend(t, ctx, b, []string{"foo"}, "x", apubsub.WithLevel(i))
		}

		cursor, err := s.Fetch(apubsub.Conditions{apubsub.FieldMsgLevel: apubsub.Gte(2)})
		require.NoError(t, err)
		require.NoError(t, cursor.SetLimit(1))
		require.NoError(t, cursor.Delete(ctx))

		cursor, err = s.Fetch(nil)
		require.NoError(t, err)
		total, err := cursor.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total, "delete ignores the window")
	})
}
