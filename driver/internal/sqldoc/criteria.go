package sqldoc

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/waigo/mongorito/core"
)

// Where translates criteria into an SQL predicate.
//
// Keys are visited in sorted order so the same criteria always produce the
// same statement.
func (b *Builder) Where(criteria core.Criteria) (sq.Sqlizer, error) {
	parts := sq.And{}
	for _, key := range criteria.Fields() {
		value := criteria[key]
		switch key {
		case core.OpAnd, core.OpOr, core.OpNor:
			pred, err := b.logical(key, value)
			if err != nil {
				return nil, err
			}
			parts = append(parts, pred)
			continue
		}
		if core.IsOperator(key) {
			return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedOperator, key)
		}
		pred, err := b.field(key, value)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pred)
	}
	return conjoin(parts), nil
}

func (b *Builder) logical(op string, value any) (sq.Sqlizer, error) {
	sets, ok := core.CriteriaList(value)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects a list of criteria", core.ErrInvalidArgument, op)
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one criteria set", core.ErrInvalidArgument, op)
	}
	preds := make([]sq.Sqlizer, 0, len(sets))
	for _, set := range sets {
		pred, err := b.Where(set)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	switch op {
	case core.OpAnd:
		return sq.And(preds), nil
	case core.OpOr:
		return sq.Or(preds), nil
	default:
		return not(sq.Or(preds)), nil
	}
}

// field translates the condition on one field: a plain value or an
// operator map.
func (b *Builder) field(name string, value any) (sq.Sqlizer, error) {
	ops, ok := core.OperatorMap(value)
	if !ok {
		return b.eq(name, value)
	}

	parts := sq.And{}
	for _, op := range ops.Fields() {
		var (
			pred sq.Sqlizer
			err  error
		)
		operand := ops[op]
		switch op {
		case core.OpEq:
			pred, err = b.eq(name, operand)
		case core.OpNe:
			pred, err = b.eq(name, operand)
			pred = not(pred)
		case core.OpGt, core.OpGte, core.OpLt, core.OpLte:
			pred, err = b.compare(name, op, operand)
		case core.OpIn:
			pred, err = b.in(name, operand)
		case core.OpNin:
			pred, err = b.in(name, operand)
			pred = not(pred)
		case core.OpExists:
			pred, err = b.exists(name, operand)
		case core.OpRegex:
			pred, err = b.regex(name, operand, ops[core.OpOptions])
		case core.OpOptions:
			if _, ok := ops[core.OpRegex]; !ok {
				return nil, fmt.Errorf("%w: $options without $regex", core.ErrInvalidArgument)
			}
			continue
		default:
			err = fmt.Errorf("%w: %s", core.ErrUnsupportedOperator, op)
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, pred)
	}
	return conjoin(parts), nil
}

// conjoin returns the only predicate of parts unwrapped.
func conjoin(parts sq.And) sq.Sqlizer {
	if len(parts) == 1 {
		return parts[0]
	}
	return parts
}

func (b *Builder) eq(name string, value any) (sq.Sqlizer, error) {
	if name == core.IDField {
		if value == nil {
			return sq.Expr("(1=0)"), nil
		}
		return sq.Eq{"id": fmt.Sprint(value)}, nil
	}
	path, err := SplitPath(name)
	if err != nil {
		return nil, err
	}
	return b.dialect.Eq(path, value)
}

var comparisons = map[string]string{
	core.OpGt:  ">",
	core.OpGte: ">=",
	core.OpLt:  "<",
	core.OpLte: "<=",
}

func (b *Builder) compare(name, op string, value any) (sq.Sqlizer, error) {
	if name == core.IDField {
		id := fmt.Sprint(value)
		switch op {
		case core.OpGt:
			return sq.Gt{"id": id}, nil
		case core.OpGte:
			return sq.GtOrEq{"id": id}, nil
		case core.OpLt:
			return sq.Lt{"id": id}, nil
		default:
			return sq.LtOrEq{"id": id}, nil
		}
	}
	path, err := SplitPath(name)
	if err != nil {
		return nil, err
	}
	return b.dialect.Compare(path, comparisons[op], value)
}

func (b *Builder) in(name string, value any) (sq.Sqlizer, error) {
	values := core.ToSlice(value)
	preds := make(sq.Or, 0, len(values))
	for _, v := range values {
		pred, err := b.eq(name, v)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

func (b *Builder) exists(name string, value any) (sq.Sqlizer, error) {
	want, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: $exists expects a bool, got %T", core.ErrInvalidArgument, value)
	}
	var pred sq.Sqlizer = sq.Expr("(1=1)")
	if name != core.IDField {
		path, err := SplitPath(name)
		if err != nil {
			return nil, err
		}
		pred = b.dialect.Exists(path)
	}
	if !want {
		return not(pred), nil
	}
	return pred, nil
}

func (b *Builder) regex(name string, pattern, options any) (sq.Sqlizer, error) {
	p, ok := pattern.(string)
	if !ok {
		return nil, fmt.Errorf("%w: $regex expects a string, got %T", core.ErrInvalidArgument, pattern)
	}
	opts, _ := options.(string)
	if name == core.IDField {
		return b.dialect.Regex(nil, p, opts)
	}
	path, err := SplitPath(name)
	if err != nil {
		return nil, err
	}
	return b.dialect.Regex(path, p, opts)
}

// not negates pred, treating an unknown (NULL) outcome as false first so
// that documents lacking the field match the negation.
func not(pred sq.Sqlizer) sq.Sqlizer {
	return sq.Expr("NOT COALESCE(?, FALSE)", pred)
}
