// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines Criteria, the filter descriptor accumulated by queries
// and executed by drivers.
package core

import (
	"fmt"
	"regexp"
	"sort"
)

// Criteria maps field names (or logical operators) to conditions.
//
// A field maps either to a plain value (equality) or to an operator map:
//
//	core.Criteria{
//		"status": "published",
//		"views":  core.Criteria{core.OpGt: 10, core.OpLte: 100},
//		core.OpOr: []core.Criteria{{"pinned": true}, {"score": core.Criteria{core.OpGte: 5}}},
//	}
type Criteria map[string]any

// Fields returns the keys of c in sorted order.
func (c Criteria) Fields() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of c.
func (c Criteria) Clone() Criteria {
	if c == nil {
		return nil
	}
	return deepCopy(c).(Criteria)
}

// OperatorMap returns v as Criteria when every key of v is an operator.
// Drivers use it to tell operator maps from embedded documents.
func OperatorMap(v any) (Criteria, bool) {
	var m map[string]any
	switch t := v.(type) {
	case Criteria:
		m = t
	case map[string]any:
		m = t
	case Attributes:
		m = t
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !IsOperator(k) {
			return nil, false
		}
	}
	return Criteria(m), true
}

// setOperator nests op under field, narrowing any condition already there.
// A plain equality already stored for field is kept as $eq.
func (c Criteria) setOperator(field string, op Operator, value any) {
	current, ok := c[field]
	if !ok {
		c[field] = Criteria{op: value}
		return
	}
	if m, ok := OperatorMap(current); ok {
		next := make(Criteria, len(m)+1)
		for k, v := range m {
			next[k] = v
		}
		next[op] = value
		c[field] = next
		return
	}
	c[field] = Criteria{OpEq: current, op: value}
}

// setValue stores an equality (or a regex match) for field.
func (c Criteria) setValue(field string, value any) {
	if re, ok := value.(*regexp.Regexp); ok {
		c.setOperator(field, OpRegex, re.String())
		return
	}
	c[field] = value
}

// merge folds other into c field by field. Operator maps on both sides are
// combined; logical operators append their sets. A malformed or empty
// logical operand fails with ErrInvalidArgument and leaves c unchanged for
// that key.
func (c Criteria) merge(other Criteria) error {
	for _, k := range other.Fields() {
		v := other[k]
		switch k {
		case OpAnd, OpOr, OpNor:
			sets, ok := CriteriaList(v)
			if !ok {
				return fmt.Errorf("%w: %s expects a list of criteria, got %T", ErrInvalidArgument, k, v)
			}
			if err := c.appendLogical(k, sets...); err != nil {
				return err
			}
			continue
		}
		if incoming, ok := OperatorMap(v); ok {
			for _, op := range incoming.Fields() {
				c.setOperator(k, op, incoming[op])
			}
			continue
		}
		c.setValue(k, v)
	}
	return nil
}

// appendLogical adds sets to the list held by op. At least one set is
// required so that no empty logical list is ever stored.
func (c Criteria) appendLogical(op Operator, sets ...Criteria) error {
	if len(sets) == 0 {
		return fmt.Errorf("%w: %s needs at least one criteria set", ErrInvalidArgument, op)
	}
	for i, set := range sets {
		if set == nil {
			return fmt.Errorf("%w: %s set %d is nil", ErrInvalidArgument, op, i)
		}
	}
	existing, _ := CriteriaList(c[op])
	c[op] = append(existing, sets...)
	return nil
}

// CriteriaList normalizes the operand of a logical operator. ok is false
// when v is not a list of mappings; a nil v yields an empty list.
func CriteriaList(v any) ([]Criteria, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []Criteria:
		return append([]Criteria(nil), t...), true
	case []map[string]any:
		out := make([]Criteria, 0, len(t))
		for _, m := range t {
			out = append(out, Criteria(m))
		}
		return out, true
	case []Attributes:
		out := make([]Criteria, 0, len(t))
		for _, m := range t {
			out = append(out, Criteria(m))
		}
		return out, true
	case []any:
		out := make([]Criteria, 0, len(t))
		for _, item := range t {
			switch m := item.(type) {
			case Criteria:
				out = append(out, m)
			case map[string]any:
				out = append(out, Criteria(m))
			case Attributes:
				out = append(out, Criteria(m))
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
