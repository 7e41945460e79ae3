package eval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apubsub "github.com/makinacorpus/apubsub-sub000"
	"github.com/makinacorpus/apubsub-sub000/internal/eval"
)

type row struct {
	id     int64
	sent   time.Time
	origin string
	unread bool
}

func get(r row, f apubsub.Field) any {
	switch f {
	case apubsub.FieldMsgID:
		return r.id
	case apubsub.FieldMsgSent:
		return r.sent
	case apubsub.FieldMsgOrigin:
		return eval.Nullable(r.origin)
	case apubsub.FieldMsgUnread:
		return r.unread
	}
	return nil
}

func preds(t *testing.T, c apubsub.Conditions) []apubsub.Predicate {
	t.Helper()
	p, err := c.Predicates(apubsub.KindMessage)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCompare(t *testing.T) {
	now := time.Now()
	assert.Equal(t, -1, eval.Compare(nil, int64(1)))
	assert.Equal(t, 0, eval.Compare(nil, nil))
	assert.Equal(t, -1, eval.Compare(false, true))
	assert.Equal(t, 1, eval.Compare(int64(3), 2.5))
	assert.Equal(t, 0, eval.Compare(int64(2), 2.0))
	assert.Equal(t, -1, eval.Compare("a", "b"))
	assert.Equal(t, 1, eval.Compare(now.Add(time.Second), now))
}

func TestMatch(t *testing.T) {
	r := row{id: 5, origin: "", unread: true}

	tests := []struct {
		name  string
		conds apubsub.Conditions
		want  bool
	}{
		{"equality", apubsub.Conditions{apubsub.FieldMsgID: 5}, true},
		{"membership", apubsub.Conditions{apubsub.FieldMsgID: []int{1, 5}}, true},
		{"not in", apubsub.Conditions{apubsub.FieldMsgID: apubsub.NotIn(5)}, false},
		{"greater", apubsub.Conditions{apubsub.FieldMsgID: apubsub.Gt(4)}, true},
		{"less or equal", apubsub.Conditions{apubsub.FieldMsgID: apubsub.Lte(4)}, false},
		{"is null", apubsub.Conditions{apubsub.FieldMsgOrigin: nil}, true},
		{"null never compares", apubsub.Conditions{apubsub.FieldMsgOrigin: apubsub.Neq("x")}, false},
		{"null is not not null", apubsub.Conditions{apubsub.FieldMsgOrigin: apubsub.Neq(nil)}, false},
		{"not equal", apubsub.Conditions{apubsub.FieldMsgID: apubsub.Neq(4)}, true},
		{"bool", apubsub.Conditions{apubsub.FieldMsgUnread: true}, true},
		{"conjunction", apubsub.Conditions{apubsub.FieldMsgUnread: true, apubsub.FieldMsgID: 6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval.MatchAll(r, preds(t, tt.conds), get))
		})
	}
}

func TestRun_SortsWithTieBreakAndWindow(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{
		{id: 3, sent: at},
		{id: 1, sent: at},
		{id: 2, sent: at.Add(-time.Minute)},
		{id: 4, sent: at},
	}
	q := apubsub.Query{Sorts: apubsub.KindMessage.OrderBy(nil)}

	all := eval.Run(append([]row(nil), rows...), q, get)
	ids := make([]int64, len(all))
	for i, r := range all {
		ids[i] = r.id
	}
	assert.Equal(t, []int64{2, 1, 3, 4}, ids)

	q.Limit, q.Offset = 2, 1
	page := eval.Run(append([]row(nil), rows...), q, get)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].id)
	assert.Equal(t, int64(3), page[1].id)

	q.Offset = 10
	assert.Empty(t, eval.Run(append([]row(nil), rows...), q, get))
}
