package apubsub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// recordingRunner returns fixed rows and records the queries it receives.
type recordingRunner struct {
	rows    []string
	fetches int
	queries []apubsub.Query
	updates []apubsub.Values
	deletes int
}

func (r *recordingRunner) Fetch(_ context.Context, q apubsub.Query) ([]string, error) {
	r.fetches++
	r.queries = append(r.queries, q)
	return r.rows, nil
}

func (r *recordingRunner) Total(_ context.Context, q apubsub.Query) (int, error) {
	r.queries = append(r.queries, q)
	return len(r.rows) * 10, nil
}

func (r *recordingRunner) Delete(_ context.Context, q apubsub.Query) error {
	r.queries = append(r.queries, q)
	r.deletes++
	return nil
}

func (r *recordingRunner) Update(_ context.Context, q apubsub.Query, v apubsub.Values) error {
	r.queries = append(r.queries, q)
	r.updates = append(r.updates, v)
	return nil
}

func TestQueryCursor(t *testing.T) {
	ctx := context.Background()

	t.Run("window reaches the runner", func(t *testing.T) {
		r := &recordingRunner{rows: []string{"a", "b"}}
		c, err := apubsub.NewCursor[string](apubsub.KindChannel, apubsub.Conditions{apubsub.FieldChanTitle: "x"}, r)
		require.NoError(t, err)
		require.NoError(t, c.AddSort(apubsub.FieldChanTitle, apubsub.Desc))
		require.NoError(t, c.SetLimit(2))
		require.NoError(t, c.SetOffset(4))

		items, err := c.Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, items)

		q := r.queries[0]
		assert.Equal(t, apubsub.KindChannel, q.Kind)
		assert.Equal(t, 2, q.Limit)
		assert.Equal(t, 4, q.Offset)
		assert.Equal(t, []apubsub.Sort{
			{Field: apubsub.FieldChanTitle, Direction: apubsub.Desc},
			{Field: apubsub.FieldChannelID, Direction: apubsub.Asc},
		}, q.Sorts)
		p, ok := q.Predicate(apubsub.FieldChanTitle)
		require.True(t, ok)
		assert.Equal(t, "x", p.Value())
	})

	t.Run("fetch runs once", func(t *testing.T) {
		r := &recordingRunner{rows: []string{"a"}}
		c, err := apubsub.NewCursor[string](apubsub.KindChannel, nil, r)
		require.NoError(t, err)

		_, err = c.Fetch(ctx)
		require.NoError(t, err)
		n, err := c.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, r.fetches)

		assert.ErrorIs(t, c.AddSort(apubsub.FieldChanTitle, apubsub.Asc), apubsub.ErrCursorAlreadyRun)
		assert.ErrorIs(t, c.SetLimit(1), apubsub.ErrCursorAlreadyRun)
		assert.ErrorIs(t, c.SetOffset(1), apubsub.ErrCursorAlreadyRun)
	})

	t.Run("total ignores the page", func(t *testing.T) {
		r := &recordingRunner{rows: []string{"a"}}
		c, err := apubsub.NewCursor[string](apubsub.KindChannel, nil, r)
		require.NoError(t, err)
		require.NoError(t, c.SetLimit(1))
		total, err := c.TotalCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, total)
	})

	t.Run("empty membership short-circuits", func(t *testing.T) {
		r := &recordingRunner{rows: []string{"a"}}
		c, err := apubsub.NewCursor[string](apubsub.KindChannel, apubsub.Conditions{apubsub.FieldChannelID: []string{}}, r)
		require.NoError(t, err)

		items, err := c.Fetch(ctx)
		require.NoError(t, err)
		assert.Empty(t, items)
		total, err := c.TotalCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, total)
		require.NoError(t, c.Delete(ctx))
		require.NoError(t, c.Update(ctx, apubsub.Values{apubsub.FieldChanTitle: "t"}))
		assert.Empty(t, r.queries)
	})

	t.Run("invalid window", func(t *testing.T) {
		c, err := apubsub.NewCursor[string](apubsub.KindChannel, nil, &recordingRunner{})
		require.NoError(t, err)
		assert.ErrorIs(t, c.SetLimit(-1), apubsub.ErrInvalidValue)
		assert.ErrorIs(t, c.SetOffset(-1), apubsub.ErrInvalidValue)
		assert.ErrorIs(t, c.AddSort(apubsub.FieldMsgLevel, apubsub.Asc), apubsub.ErrUnsupportedSortField)
	})

	t.Run("update validates values", func(t *testing.T) {
		r := &recordingRunner{}
		c, err := apubsub.NewCursor[string](apubsub.KindSubscription, nil, r)
		require.NoError(t, err)

		assert.ErrorIs(t, c.Update(ctx, apubsub.Values{apubsub.FieldSubCreated: "x"}), apubsub.ErrUnsupportedUpdateField)
		assert.ErrorIs(t, c.Update(ctx, apubsub.Values{apubsub.FieldSubStatus: "yes"}), apubsub.ErrInvalidValue)
		require.NoError(t, c.Update(ctx, nil))
		assert.Empty(t, r.updates)

		require.NoError(t, c.Update(ctx, apubsub.Values{apubsub.FieldSubStatus: false}))
		assert.Equal(t, []apubsub.Values{{apubsub.FieldSubStatus: false}}, r.updates)
	})

	t.Run("subscriber cursors are read-only", func(t *testing.T) {
		c, err := apubsub.NewCursor[string](apubsub.KindSubscriber, nil, &recordingRunner{})
		require.NoError(t, err)
		err = c.Update(ctx, apubsub.Values{apubsub.FieldSubStatus: true})
		assert.ErrorIs(t, err, apubsub.ErrUnsupportedOperation)
	})

	t.Run("delete ignores the window", func(t *testing.T) {
		r := &recordingRunner{}
		c, err := apubsub.NewCursor[string](apubsub.KindChannel, nil, r)
		require.NoError(t, err)
		require.NoError(t, c.SetLimit(1))
		require.NoError(t, c.Delete(ctx))
		assert.Equal(t, 1, r.deletes)
	})
}
