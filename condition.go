package apubsub

import (
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Operator is a comparison operator used in conditions.
type Operator string

const (
	OpEqual          Operator = "="
	OpNotEqual       Operator = "<>"
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpIn             Operator = "in"
	OpNotIn          Operator = "not in"
)

// Op is an explicit {operator: value} condition. Value is a scalar for the
// comparison operators and a slice for OpIn / OpNotIn.
type Op struct {
	Operator Operator
	Value    any
}

func Eq(v any) Op  { return Op{OpEqual, v} }
func Neq(v any) Op { return Op{OpNotEqual, v} }
func Lt(v any) Op  { return Op{OpLess, v} }
func Lte(v any) Op { return Op{OpLessOrEqual, v} }
func Gt(v any) Op  { return Op{OpGreater, v} }
func Gte(v any) Op { return Op{OpGreaterOrEqual, v} }

// In matches any of the given values.
func In[T any](vs ...T) Op { return Op{OpIn, vs} }

// NotIn matches none of the given values.
func NotIn[T any](vs ...T) Op { return Op{OpNotIn, vs} }

// Conditions maps a field to a scalar (equality), a slice (membership) or an Op.
type Conditions map[Field]any

// Predicate is the normalized form every backend interprets.
type Predicate struct {
	Field    Field
	Operator Operator
	// Values holds exactly one canonical value, except for OpIn / OpNotIn.
	Values []any
}

// Value returns the single operand of a comparison predicate.
func (p Predicate) Value() any {
	if len(p.Values) == 0 {
		return nil
	}
	return p.Values[0]
}

// Predicates validates the conditions against kind k and returns them in a
// stable, field-sorted order.
func (c Conditions) Predicates(k Kind) ([]Predicate, error) {
	preds := make([]Predicate, 0, len(c))
	for f, raw := range c {
		if !k.CanFilter(f) {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedFilterField, f, k)
		}
		p, err := predicate(f, raw)
		if err != nil {
			return nil, err
		}
		if p.Operator == OpNotIn && len(p.Values) == 0 {
			continue
		}
		if f.nullable() {
			for i, v := range p.Values {
				if v == "" {
					p.Values[i] = nil
				}
			}
		}
		preds = append(preds, p)
	}
	sort.Slice(preds, func(i, j int) bool { return preds[i].Field < preds[j].Field })
	return preds, nil
}

func predicate(f Field, raw any) (Predicate, error) {
	if op, ok := raw.(Op); ok {
		return opPredicate(f, op)
	}
	if op, ok := raw.(*Op); ok && op != nil {
		return opPredicate(f, *op)
	}
	if vs, ok := sliceValues(raw); ok {
		return Predicate{Field: f, Operator: OpIn, Values: vs}, nil
	}
	return Predicate{Field: f, Operator: OpEqual, Values: []any{Canonical(raw)}}, nil
}

func opPredicate(f Field, op Op) (Predicate, error) {
	vs, isSlice := sliceValues(op.Value)
	switch op.Operator {
	case OpIn, OpNotIn:
		if !isSlice {
			vs = []any{Canonical(op.Value)}
		}
		return Predicate{Field: f, Operator: op.Operator, Values: vs}, nil
	case OpEqual, OpNotEqual:
		if isSlice {
			if op.Operator == OpEqual {
				return Predicate{Field: f, Operator: OpIn, Values: vs}, nil
			}
			return Predicate{Field: f, Operator: OpNotIn, Values: vs}, nil
		}
		return Predicate{Field: f, Operator: op.Operator, Values: []any{Canonical(op.Value)}}, nil
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		if isSlice {
			return Predicate{}, fmt.Errorf("%w: %q on %s does not accept a list", ErrInvalidOperator, op.Operator, f)
		}
		v := Canonical(op.Value)
		if v == nil {
			return Predicate{}, fmt.Errorf("%w: %q on %s requires a value", ErrInvalidOperator, op.Operator, f)
		}
		return Predicate{Field: f, Operator: op.Operator, Values: []any{v}}, nil
	default:
		return Predicate{}, fmt.Errorf("%w: %q", ErrInvalidOperator, op.Operator)
	}
}

// sliceValues flattens any slice or array (except []byte) into canonical values.
func sliceValues(raw any) ([]any, bool) {
	if raw == nil {
		return nil, false
	}
	if _, ok := raw.([]byte); ok {
		return nil, false
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, 0, rv.Len())
	for i := range rv.Len() {
		out = append(out, Canonical(rv.Index(i).Interface()))
	}
	return out, true
}

// Canonical converts a caller value to the small set of types engines deal
// with: nil, bool, int64, float64, string and time.Time.
func Canonical(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, int64, float64, string:
		return x
	case time.Time:
		return x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint:
		return int64(x)
	case uint64:
		return int64(x)
	case uint32:
		return int64(x)
	case uint16:
		return int64(x)
	case uint8:
		return int64(x)
	case float32:
		return float64(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Canonical(rv.Elem().Interface())
	}
	return v
}
