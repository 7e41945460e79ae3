// Package eval evaluates cursor queries in process, for engines that have
// no native query language. Values are canonical (see apubsub.Canonical).
//
// NULL semantics follow SQL: a nil value only matches an explicit equality
// (or inequality) against nil, and sorts first in ascending order.
package eval

import (
	"slices"
	"time"

	apubsub "github.com/makinacorpus/apubsub-sub000"
)

// Getter returns the canonical value of field f for row.
type Getter[T any] func(row T, f apubsub.Field) any

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case time.Time:
		return 4
	}
	return 5
}

// Compare orders two canonical values. Values of different kinds are
// ordered by kind.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
		return cmpOrdered(float64(x), b.(float64))
	case float64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, float64(y))
		}
		return cmpOrdered(x, b.(float64))
	case string:
		return cmpOrdered(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Match evaluates a single predicate against value v.
func Match(p apubsub.Predicate, v any) bool {
	switch p.Operator {
	case apubsub.OpEqual:
		want := p.Value()
		if want == nil || v == nil {
			return want == nil && v == nil
		}
		return Compare(v, want) == 0
	case apubsub.OpNotEqual:
		want := p.Value()
		if want == nil {
			return v != nil
		}
		if v == nil {
			return false
		}
		return Compare(v, want) != 0
	case apubsub.OpIn, apubsub.OpNotIn:
		if v == nil {
			return false
		}
		found := slices.ContainsFunc(p.Values, func(want any) bool {
			return want != nil && Compare(v, want) == 0
		})
		return found == (p.Operator == apubsub.OpIn)
	}
	if v == nil {
		return false
	}
	c := Compare(v, p.Value())
	switch p.Operator {
	case apubsub.OpLess:
		return c < 0
	case apubsub.OpLessOrEqual:
		return c <= 0
	case apubsub.OpGreater:
		return c > 0
	case apubsub.OpGreaterOrEqual:
		return c >= 0
	}
	return false
}

// MatchAll reports whether row satisfies every predicate.
func MatchAll[T any](row T, preds []apubsub.Predicate, get Getter[T]) bool {
	for _, p := range preds {
		if !Match(p, get(row, p.Field)) {
			return false
		}
	}
	return true
}

// Filter returns the rows satisfying every predicate.
func Filter[T any](rows []T, preds []apubsub.Predicate, get Getter[T]) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if MatchAll(row, preds, get) {
			out = append(out, row)
		}
	}
	return out
}

// Sort orders rows in place by the sort clauses.
func Sort[T any](rows []T, sorts []apubsub.Sort, get Getter[T]) {
	slices.SortStableFunc(rows, func(a, b T) int {
		for _, s := range sorts {
			c := Compare(get(a, s.Field), get(b, s.Field))
			if c == 0 {
				continue
			}
			if s.Direction == apubsub.Desc {
				return -c
			}
			return c
		}
		return 0
	})
}

// Window applies offset and limit. A zero limit means unbounded.
func Window[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// Run filters, sorts and windows rows according to q.
func Run[T any](rows []T, q apubsub.Query, get Getter[T]) []T {
	rows = Filter(rows, q.Predicates, get)
	Sort(rows, q.Sorts, get)
	return Window(rows, q.Limit, q.Offset)
}

// Nullable maps the zero value of a string or time to nil.
func Nullable(v any) any {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
	case time.Time:
		if x.IsZero() {
			return nil
		}
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	}
	return v
}
