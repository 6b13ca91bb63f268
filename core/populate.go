// Package core provides the fundamental building blocks of the mongorito ODM.
// This file handles reference fields: flattening documents to identifiers
// before a write and hydrating identifiers to documents after a read.
package core

import (
	"context"
	"fmt"
)

// flattenReferences replaces every declared reference field with the
// identifier form of its value. Hydrated documents become their _id; values
// that already are identifiers are kept.
func (d *Document) flattenReferences() error {
	for _, field := range d.model.schema.populateFields() {
		value := d.Get(field)
		if value == nil {
			return &ReferenceError{Field: field, Index: -1}
		}

		if !isSequence(value) {
			id, ok := referenceID(value)
			if !ok {
				return &ReferenceError{Field: field, Index: -1}
			}
			d.Set(field, id)
			continue
		}

		items := ToSlice(value)
		ids := make([]any, len(items))
		for i, item := range items {
			id, ok := referenceID(item)
			if !ok {
				return &ReferenceError{Field: field, Index: i}
			}
			ids[i] = id
		}
		d.Set(field, ids)
	}
	return nil
}

// referenceID returns the identifier a reference value stands for.
func referenceID(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case *Document:
		if t == nil || t.ID() == nil {
			return nil, false
		}
		return t.ID(), true
	case Attributes:
		return t[IDField], t[IDField] != nil
	case map[string]any:
		return t[IDField], t[IDField] != nil
	default:
		return v, true
	}
}

// idKey makes normalized identifiers usable as map keys.
func idKey(id any) string {
	return fmt.Sprintf("%T:%v", id, id)
}

// populate hydrates the requested reference fields of docs. Each field costs
// one batched find on the referenced collection. A missing single reference
// becomes nil; missing sequence elements are dropped.
func (q *Query) populate(ctx context.Context, docs []*Document) error {
	for _, field := range q.populateFields() {
		ref := q.modifiers.Populate[field]
		coll, err := ref.Collection()
		if err != nil {
			return err
		}

		var ids []any
		seen := make(map[string]bool)
		for _, doc := range docs {
			for _, raw := range referenceValues(doc.Get(field)) {
				id, err := coll.ID(raw)
				if err != nil {
					return err
				}
				if key := idKey(id); !seen[key] {
					seen[key] = true
					ids = append(ids, id)
				}
			}
		}
		if len(ids) == 0 {
			continue
		}

		rows, err := coll.Find(ctx, Criteria{IDField: Criteria{OpIn: ids}}, Modifiers{})
		if err != nil {
			return err
		}
		byID := make(map[string]Attributes, len(rows))
		for _, row := range rows {
			byID[idKey(row[IDField])] = row
		}

		resolve := func(raw any) (*Document, error) {
			if raw == nil {
				return nil, nil
			}
			if doc, ok := raw.(*Document); ok {
				return doc, nil
			}
			id, err := coll.ID(raw)
			if err != nil {
				return nil, err
			}
			row, ok := byID[idKey(id)]
			if !ok {
				return nil, nil
			}
			return ref.Hydrate(row.Clone()), nil
		}

		for _, doc := range docs {
			value := doc.Get(field)
			if value == nil {
				continue
			}
			if !isSequence(value) {
				hydrated, err := resolve(value)
				if err != nil {
					return err
				}
				if hydrated == nil {
					doc.attributes[field] = nil
				} else {
					doc.attributes[field] = hydrated
				}
				continue
			}
			items := ToSlice(value)
			out := make([]*Document, 0, len(items))
			for _, item := range items {
				hydrated, err := resolve(item)
				if err != nil {
					return err
				}
				if hydrated != nil {
					out = append(out, hydrated)
				}
			}
			doc.attributes[field] = out
		}
	}
	return nil
}

// referenceValues lists the raw identifiers held by a reference field,
// skipping nil values and already hydrated documents.
func referenceValues(value any) []any {
	if value == nil {
		return nil
	}
	var items []any
	if isSequence(value) {
		items = ToSlice(value)
	} else {
		items = []any{value}
	}
	out := items[:0:0]
	for _, item := range items {
		if item == nil {
			continue
		}
		if _, ok := item.(*Document); ok {
			continue
		}
		out = append(out, item)
	}
	return out
}
