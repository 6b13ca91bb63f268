package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/waigo/mongorito/core"
)

// match evaluates criteria against doc with MongoDB semantics: a condition
// on a field holding a sequence matches when any element matches, and
// comparisons never match values of different kinds.
func match(doc core.Attributes, criteria core.Criteria) (bool, error) {
	for _, key := range criteria.Fields() {
		cond := criteria[key]
		switch key {
		case core.OpAnd, core.OpOr, core.OpNor:
			sets, ok := core.CriteriaList(cond)
			if !ok {
				return false, fmt.Errorf("%w: %s expects a list of criteria", core.ErrInvalidArgument, key)
			}
			if len(sets) == 0 {
				return false, fmt.Errorf("%w: %s needs at least one criteria set", core.ErrInvalidArgument, key)
			}
			ok, err := matchLogical(doc, key, sets)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		if core.IsOperator(key) {
			return false, fmt.Errorf("%w: %s", core.ErrUnsupportedOperator, key)
		}

		value, present := lookup(doc, key)
		ok, err := matchField(value, present, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchLogical(doc core.Attributes, op string, sets []core.Criteria) (bool, error) {
	for _, set := range sets {
		ok, err := match(doc, set)
		if err != nil {
			return false, err
		}
		switch {
		case op == core.OpAnd && !ok:
			return false, nil
		case op == core.OpOr && ok:
			return true, nil
		case op == core.OpNor && ok:
			return false, nil
		}
	}
	return op != core.OpOr, nil
}

// lookup resolves a dotted path through nested mappings.
func lookup(doc core.Attributes, path string) (any, bool) {
	var current any = map[string]any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case core.Attributes:
		return t, true
	case core.Criteria:
		return t, true
	}
	return nil, false
}

func matchField(value any, present bool, cond any) (bool, error) {
	ops, ok := core.OperatorMap(cond)
	if !ok {
		return anyElement(value, func(v any) bool { return equal(v, cond) }), nil
	}

	for _, op := range ops.Fields() {
		arg := ops[op]
		var ok bool
		switch op {
		case core.OpEq:
			ok = anyElement(value, func(v any) bool { return equal(v, arg) })
		case core.OpNe:
			ok = !anyElement(value, func(v any) bool { return equal(v, arg) })
		case core.OpGt, core.OpGte, core.OpLt, core.OpLte:
			ok = present && anyElement(value, func(v any) bool {
				c, comparable := compare(v, arg)
				return comparable && satisfies(op, c)
			})
		case core.OpIn:
			ok = anyElement(value, func(v any) bool { return contains(arg, v) })
		case core.OpNin:
			ok = !anyElement(value, func(v any) bool { return contains(arg, v) })
		case core.OpExists:
			ok = present == truthy(arg)
		case core.OpRegex:
			re, err := compileRegex(arg, ops[core.OpOptions])
			if err != nil {
				return false, err
			}
			ok = anyElement(value, func(v any) bool {
				s, isString := v.(string)
				return isString && re.MatchString(s)
			})
		case core.OpOptions:
			continue
		default:
			return false, fmt.Errorf("%w: %s", core.ErrUnsupportedOperator, op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// anyElement applies fn to value and, when value is a sequence, to each of
// its elements.
func anyElement(value any, fn func(any) bool) bool {
	if fn(value) {
		return true
	}
	if !isSequence(value) {
		return false
	}
	for _, item := range core.ToSlice(value) {
		if fn(item) {
			return true
		}
	}
	return false
}

func contains(list any, v any) bool {
	for _, candidate := range core.ToSlice(list) {
		if equal(v, candidate) {
			return true
		}
	}
	return false
}

func satisfies(op string, c int) bool {
	switch op {
	case core.OpGt:
		return c > 0
	case core.OpGte:
		return c >= 0
	case core.OpLt:
		return c < 0
	default:
		return c <= 0
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return true
}

func compileRegex(pattern, options any) (*regexp.Regexp, error) {
	var expr string
	switch p := pattern.(type) {
	case string:
		expr = p
	case *regexp.Regexp:
		expr = p.String()
	default:
		return nil, fmt.Errorf("%w: $regex expects a string, got %T", core.ErrInvalidArgument, pattern)
	}
	if flags, _ := options.(string); flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return re, nil
}

// equal compares two attribute values: numbers by value whatever their Go
// type, sequences element by element, mappings key by key.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	if isSequence(a) && isSequence(b) {
		as, bs := core.ToSlice(a), core.ToSlice(b)
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, v := range ma {
			w, ok := mb[k]
			if !ok || !equal(v, w) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values of the same kind. The boolean is false when
// the values are of kinds that do not compare.
func compare(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case ba == bb:
			return 0, true
		case bb:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func isSequence(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return reflect.TypeOf(v).Elem().Kind() != reflect.Uint8
	}
	return false
}
