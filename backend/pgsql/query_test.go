package pgsql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

func buildFetch(t *testing.T, k apubsub.Kind, conds apubsub.Conditions, sorts ...apubsub.Sort) (string, []any) {
	t.Helper()
	preds, err := conds.Predicates(k)
	require.NoError(t, err)
	q := apubsub.Query{Kind: k, Predicates: preds, Sorts: k.OrderBy(sorts), Limit: 10, Offset: 5}
	ds, err := filtered(q)
	require.NoError(t, err)
	ds, err = windowed(ds.Select(messageColumns...), q)
	require.NoError(t, err)
	sql, args, err := toSQL(ds)
	require.NoError(t, err)
	return sql, args
}

func TestQuery_NullSemantics(t *testing.T) {
	sql, args := buildFetch(t, apubsub.KindMessage, apubsub.Conditions{
		apubsub.FieldMsgType:   nil,
		apubsub.FieldMsgOrigin: apubsub.Neq(nil),
	})
	assert.Contains(t, sql, `"m"."type" IS NULL`)
	assert.Contains(t, sql, `"m"."origin" IS NOT NULL`)
	require.Len(t, args, 2, "only the page window is bound")
	assert.EqualValues(t, 10, args[0])
	assert.EqualValues(t, 5, args[1])
}

func TestQuery_Membership(t *testing.T) {
	sql, args := buildFetch(t, apubsub.KindMessage, apubsub.Conditions{
		apubsub.FieldMsgLevel: []int{1, 2},
		apubsub.FieldMsgType:  apubsub.NotIn("a", ""),
	})
	assert.Contains(t, sql, `"m"."level" IN ($1, $2)`)
	assert.Contains(t, sql, `"m"."type" NOT IN ($3)`)
	assert.Equal(t, []any{int64(1), int64(2), "a"}, args[:3])

	sql, _ = buildFetch(t, apubsub.KindMessage, apubsub.Conditions{
		apubsub.FieldMsgType: apubsub.In[any](nil),
	})
	assert.Contains(t, sql, "FALSE")
}

func TestQuery_OrderAndWindow(t *testing.T) {
	sql, _ := buildFetch(t, apubsub.KindMessage, nil, apubsub.Sort{Field: apubsub.FieldMsgLevel, Direction: apubsub.Desc})
	assert.Contains(t, sql, `ORDER BY "m"."level" DESC NULLS LAST, "m"."id" ASC NULLS FIRST, "q"."id" ASC NULLS FIRST`)
	assert.Contains(t, sql, "LIMIT $1")
	assert.Contains(t, sql, "OFFSET $2")
}

func TestQuery_Sources(t *testing.T) {
	for k, cols := range columns {
		for f := range cols {
			assert.True(t, k.CanFilter(f), "%s cannot filter on %s", k, f)
		}
		_, ok := keys[k]
		assert.True(t, ok, "no key column for %s", k)
	}
}
