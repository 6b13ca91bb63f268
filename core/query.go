// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the fluent query builder, which accumulates criteria and
// modifiers across chained calls and resolves them in a single storage call.
package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/waigo/mongorito/internal/ctxlog"
)

// Query represents a fluent query builder bound to one model.
//
// Chain methods mutate the query and return it; a terminal method (Find,
// FindOne, FindByID, All, Count, Remove) issues exactly one storage call,
// plus one batched read per populated field. A Query is single-use.
//
// Operator methods take either (field, value) or (value); the latter applies
// to the field most recently named by Where.
//
// Example:
//
//	docs, err := posts.
//		Where("status", "published").
//		Where("views").Gt(10).Lte(1000).
//		In("tags", []string{"go", "db"}).
//		Sort("created_at", core.Desc).
//		Limit(10).
//		Populate("author").
//		Find(ctx)
type Query struct {
	model      *Model
	collection Collection
	criteria   Criteria
	modifiers  Modifiers
	field      string
	err        error
	resolveErr error
	executed   bool
}

// newQuery creates a new Query bound to the model's collection. A
// resolution failure is reported by the terminal call, not by Err.
func newQuery(m *Model) *Query {
	coll, err := m.Collection()
	return &Query{
		model:      m,
		collection: coll,
		criteria:   Criteria{},
		resolveErr: err,
	}
}

// Criteria returns the accumulated filter.
func (q *Query) Criteria() Criteria { return q.criteria }

// Modifiers returns the accumulated modifiers.
func (q *Query) Modifiers() Modifiers { return q.modifiers }

// Err returns the first argument error recorded by a chain call.
func (q *Query) Err() error { return q.err }

func (q *Query) fail(format string, args ...any) *Query {
	return q.record(fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...))
}

// record keeps err unless an earlier chain call already failed.
func (q *Query) record(err error) *Query {
	if err != nil && q.err == nil {
		q.err = err
	}
	return q
}

// Where adds an equality, selects a field, or merges a whole mapping:
//
//	q.Where("status", "published")          // status = "published"
//	q.Where("title", regexp.MustCompile(`^Go`)) // regex match
//	q.Where("views").Gt(10)                  // select views for Gt
//	q.Where(core.Criteria{"a": 1, "b": 2})   // merge field by field
func (q *Query) Where(field any, value ...any) *Query {
	switch f := field.(type) {
	case string:
		q.field = f
		switch len(value) {
		case 0:
		case 1:
			q.criteria.setValue(f, value[0])
		default:
			return q.fail("Where(%q) takes at most one value, got %d", f, len(value))
		}
	case Criteria:
		return q.record(q.criteria.merge(f))
	case Attributes:
		return q.record(q.criteria.merge(Criteria(f)))
	case map[string]any:
		return q.record(q.criteria.merge(Criteria(f)))
	default:
		return q.fail("Where expects a field name or criteria, got %T", field)
	}
	return q
}

// Limit caps the number of returned documents.
func (q *Query) Limit(n int64) *Query {
	q.modifiers.Limit = &n
	return q
}

// Skip sets the number of documents to skip.
func (q *Query) Skip(n int64) *Query {
	q.modifiers.Skip = &n
	return q
}

// Sort orders by field, ascending unless a direction is given. Sorting on a
// field again replaces its direction without changing its rank.
func (q *Query) Sort(field string, direction ...Direction) *Query {
	dir := Asc
	if len(direction) > 0 {
		dir = direction[0]
	}
	if dir != Asc && dir != Desc {
		return q.fail("sort direction for %q must be 1 or -1, got %d", field, dir)
	}
	for i, s := range q.modifiers.Sort {
		if s.Field == field {
			q.modifiers.Sort[i].Direction = dir
			return q
		}
	}
	q.modifiers.Sort = append(q.modifiers.Sort, SortField{Field: field, Direction: dir})
	return q
}

// fieldValue resolves the (field, value) or (value) argument shapes.
func (q *Query) fieldValue(name string, args []any) (string, any, bool) {
	switch len(args) {
	case 1:
		if q.field == "" {
			q.fail("%s(value) needs a field selected with Where", name)
			return "", nil, false
		}
		return q.field, args[0], true
	case 2:
		field, ok := args[0].(string)
		if !ok {
			q.fail("%s expects a field name first, got %T", name, args[0])
			return "", nil, false
		}
		q.field = field
		return field, args[1], true
	default:
		q.fail("%s takes (field, value) or (value), got %d arguments", name, len(args))
		return "", nil, false
	}
}

func (q *Query) operator(name string, op Operator, args []any) *Query {
	field, value, ok := q.fieldValue(name, args)
	if !ok {
		return q
	}
	if op == OpIn || op == OpNin {
		value = ToSlice(value)
	}
	q.criteria.setOperator(field, op, value)
	return q
}

// Lt requires the field to be less than value.
func (q *Query) Lt(args ...any) *Query { return q.operator("Lt", OpLt, args) }

// Lte requires the field to be less than or equal to value.
func (q *Query) Lte(args ...any) *Query { return q.operator("Lte", OpLte, args) }

// Gt requires the field to be greater than value.
func (q *Query) Gt(args ...any) *Query { return q.operator("Gt", OpGt, args) }

// Gte requires the field to be greater than or equal to value.
func (q *Query) Gte(args ...any) *Query { return q.operator("Gte", OpGte, args) }

// Ne requires the field to differ from value.
func (q *Query) Ne(args ...any) *Query { return q.operator("Ne", OpNe, args) }

// In requires the field to equal one of the values of a slice.
func (q *Query) In(args ...any) *Query { return q.operator("In", OpIn, args) }

// Nin requires the field to equal none of the values of a slice.
func (q *Query) Nin(args ...any) *Query { return q.operator("Nin", OpNin, args) }

// Exists requires the field to be present, or absent when given false.
// Accepted shapes: (), (bool), (field), (field, bool).
func (q *Query) Exists(args ...any) *Query {
	field, exists := q.field, true
	switch len(args) {
	case 0:
	case 1:
		switch v := args[0].(type) {
		case string:
			field = v
		case bool:
			exists = v
		default:
			return q.fail("Exists expects a field name or bool, got %T", args[0])
		}
	case 2:
		f, ok := args[0].(string)
		b, ok2 := args[1].(bool)
		if !ok || !ok2 {
			return q.fail("Exists expects (field, bool), got (%T, %T)", args[0], args[1])
		}
		field, exists = f, b
	default:
		return q.fail("Exists takes at most 2 arguments, got %d", len(args))
	}
	if field == "" {
		return q.fail("Exists needs a field selected with Where")
	}
	q.field = field
	q.criteria.setOperator(field, OpExists, exists)
	return q
}

// And requires every given criteria set to match.
func (q *Query) And(sets ...Criteria) *Query {
	return q.record(q.criteria.appendLogical(OpAnd, sets...))
}

// Or requires at least one given criteria set to match.
func (q *Query) Or(sets ...Criteria) *Query {
	return q.record(q.criteria.appendLogical(OpOr, sets...))
}

// Nor requires none of the given criteria sets to match.
func (q *Query) Nor(sets ...Criteria) *Query {
	return q.record(q.criteria.appendLogical(OpNor, sets...))
}

// Populate hydrates the reference field into documents of ref after the
// read. ref defaults to the model declared for field by the schema.
func (q *Query) Populate(field string, ref ...*Model) *Query {
	var target *Model
	if len(ref) > 0 {
		target = ref[0]
	} else {
		target = q.model.schema.Populate[field]
	}
	if target == nil {
		return q.fail("populate %q: no referenced model", field)
	}
	if q.modifiers.Populate == nil {
		q.modifiers.Populate = make(map[string]*Model)
	}
	q.modifiers.Populate[field] = target
	return q
}

// begin marks the query spent and merges the terminal's criteria.
func (q *Query) begin(criteria []Criteria) error {
	if q.executed {
		return ErrQueryExecuted
	}
	q.executed = true
	if q.err != nil {
		return q.err
	}
	if q.resolveErr != nil {
		return q.resolveErr
	}
	for _, c := range criteria {
		if err := q.criteria.merge(c); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the documents matching the accumulated criteria merged with
// the given ones, in store order.
func (q *Query) Find(ctx context.Context, criteria ...Criteria) ([]*Document, error) {
	if err := q.begin(criteria); err != nil {
		return nil, err
	}
	rows, err := q.collection.Find(ctx, q.criteria, q.modifiers)
	if err != nil {
		return nil, err
	}

	docs := make([]*Document, len(rows))
	for i, row := range rows {
		docs[i] = q.model.Hydrate(row)
	}
	if len(q.modifiers.Populate) > 0 {
		if err := q.populate(ctx, docs); err != nil {
			return nil, err
		}
	}

	ctxlog.FromContext(ctx).Debug("documents found", "collection", q.collection.Name(), "count", len(docs))
	Emit(EventFind, QueryPayload{Collection: q.collection.Name(), Criteria: q.criteria.Clone(), Count: int64(len(docs))})
	return docs, nil
}

// FindOne returns the first matching document, or nil when none matches.
func (q *Query) FindOne(ctx context.Context, criteria ...Criteria) (*Document, error) {
	if q.modifiers.Limit == nil {
		q.Limit(1)
	}
	docs, err := q.Find(ctx, criteria...)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// FindByID returns the document whose _id is id, or nil.
func (q *Query) FindByID(ctx context.Context, id any) (*Document, error) {
	if q.collection != nil {
		normalized, err := q.collection.ID(id)
		q.record(err)
		id = normalized
	}
	return q.FindOne(ctx, Criteria{IDField: id})
}

// All returns every document matching the accumulated criteria.
func (q *Query) All(ctx context.Context) ([]*Document, error) {
	return q.Find(ctx)
}

// Count returns the number of matching documents. Modifiers are ignored.
func (q *Query) Count(ctx context.Context, criteria ...Criteria) (int64, error) {
	if err := q.begin(criteria); err != nil {
		return 0, err
	}
	return q.collection.Count(ctx, q.criteria)
}

// Remove deletes the matching documents and returns the store's result.
// Document hooks do not run.
func (q *Query) Remove(ctx context.Context, criteria ...Criteria) (Result, error) {
	if err := q.begin(criteria); err != nil {
		return Result{}, err
	}
	res, err := q.collection.Remove(ctx, q.criteria)
	if err != nil {
		return Result{}, err
	}
	Emit(EventRemove, QueryPayload{Collection: q.collection.Name(), Criteria: q.criteria.Clone(), Count: res.Deleted})
	return res, nil
}

// populateFields lists the fields requested by Populate in sorted order.
func (q *Query) populateFields() []string {
	fields := make([]string, 0, len(q.modifiers.Populate))
	for f := range q.modifiers.Populate {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
