package apubsub

import (
	"context"
	"fmt"
)

// LimitNone disables the page window.
const LimitNone = 0

// Cursor is a single-use, filterable, sortable, paginated and mutable view
// over a backend result set.
//
// The window (sorts, limit, offset) must be configured before the first
// Fetch; afterwards the setters fail with ErrCursorAlreadyRun. Delete and
// Update act on every row matching the conditions and ignore the window.
type Cursor[T any] interface {
	Kind() Kind
	AddSort(field Field, dir Direction) error
	SetLimit(n int) error
	SetOffset(n int) error
	// Fetch runs the cursor and returns the current page. Later calls return
	// the same page.
	Fetch(ctx context.Context) ([]T, error)
	// Count returns the number of items in the current page.
	Count(ctx context.Context) (int, error)
	// TotalCount returns the number of matching items ignoring limit and offset.
	TotalCount(ctx context.Context) (int, error)
	Delete(ctx context.Context) error
	Update(ctx context.Context, values Values) error
}

// Query is what a Runner receives: validated predicates and the effective
// order, tie-breaks included.
type Query struct {
	Kind       Kind
	Predicates []Predicate
	Sorts      []Sort
	Limit      int
	Offset     int
}

// Predicate returns the first predicate on f.
func (q Query) Predicate(f Field) (Predicate, bool) {
	for _, p := range q.Predicates {
		if p.Field == f {
			return p, true
		}
	}
	return Predicate{}, false
}

// Runner is the engine side of a cursor. Engines translate the query to
// their native facilities; the shared semantics live in QueryCursor.
// Delete and Update implementations must materialize the matching key set
// before writing.
type Runner[T any] interface {
	Fetch(ctx context.Context, q Query) ([]T, error)
	Total(ctx context.Context, q Query) (int, error)
	Delete(ctx context.Context, q Query) error
	Update(ctx context.Context, q Query, values Values) error
}

// QueryCursor is the Cursor implementation every engine uses.
type QueryCursor[T any] struct {
	kind   Kind
	preds  []Predicate
	sorts  []Sort
	limit  int
	offset int
	runner Runner[T]

	ran    bool
	result []T
}

// NewCursor validates conds for kind k and returns a cursor backed by r.
func NewCursor[T any](k Kind, conds Conditions, r Runner[T]) (*QueryCursor[T], error) {
	preds, err := conds.Predicates(k)
	if err != nil {
		return nil, err
	}
	return &QueryCursor[T]{kind: k, preds: preds, runner: r}, nil
}

func (c *QueryCursor[T]) Kind() Kind { return c.kind }

func (c *QueryCursor[T]) AddSort(field Field, dir Direction) error {
	if c.ran {
		return ErrCursorAlreadyRun
	}
	if !c.kind.CanSort(field) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedSortField, field, c.kind)
	}
	c.sorts = append(c.sorts, Sort{Field: field, Direction: dir})
	return nil
}

func (c *QueryCursor[T]) SetLimit(n int) error {
	if c.ran {
		return ErrCursorAlreadyRun
	}
	if n < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidValue, n)
	}
	c.limit = n
	return nil
}

func (c *QueryCursor[T]) SetOffset(n int) error {
	if c.ran {
		return ErrCursorAlreadyRun
	}
	if n < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrInvalidValue, n)
	}
	c.offset = n
	return nil
}

// Query returns the query the runner receives.
func (c *QueryCursor[T]) Query() Query {
	return Query{
		Kind:       c.kind,
		Predicates: c.preds,
		Sorts:      c.kind.OrderBy(c.sorts),
		Limit:      c.limit,
		Offset:     c.offset,
	}
}

// empty reports whether an IN predicate with no values makes the result set
// trivially empty.
func (c *QueryCursor[T]) empty() bool {
	for _, p := range c.preds {
		if p.Operator == OpIn && len(p.Values) == 0 {
			return true
		}
	}
	return false
}

func (c *QueryCursor[T]) Fetch(ctx context.Context) ([]T, error) {
	if c.ran {
		return c.result, nil
	}
	if c.empty() {
		c.ran = true
		return nil, nil
	}
	items, err := c.runner.Fetch(ctx, c.Query())
	if err != nil {
		return nil, err
	}
	c.ran = true
	c.result = items
	return items, nil
}

func (c *QueryCursor[T]) Count(ctx context.Context) (int, error) {
	items, err := c.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (c *QueryCursor[T]) TotalCount(ctx context.Context) (int, error) {
	if c.empty() {
		return 0, nil
	}
	return c.runner.Total(ctx, c.Query())
}

func (c *QueryCursor[T]) Delete(ctx context.Context) error {
	if c.empty() {
		return nil
	}
	return c.runner.Delete(ctx, c.Query())
}

func (c *QueryCursor[T]) Update(ctx context.Context, values Values) error {
	if len(values) == 0 {
		return nil
	}
	vals, err := values.validate(c.kind)
	if err != nil {
		return err
	}
	if c.empty() {
		return nil
	}
	return c.runner.Update(ctx, c.Query(), vals)
}
