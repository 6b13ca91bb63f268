// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the Model, which represents the entry point for working
// with a specific schema. A Model builds documents, resolves its collection
// and opens queries against it.
package core

import (
	"context"
	"fmt"
)

// Model is the persistence engine of one document type.
//
// It wraps a Schema and an optional Connection; without one it uses the
// process default connection at the time a call resolves the collection.
type Model struct {
	schema     *Schema
	connection *Connection
}

// ModelOption is a function used to configure a Model.
type ModelOption func(*Model)

// WithConnection binds the model to conn instead of the process default.
func WithConnection(conn *Connection) ModelOption {
	return func(m *Model) { m.connection = conn }
}

// NewModel creates a new Model bound to a schema.
//
// Example:
//
//	posts := core.NewModel(core.NewSchema("posts"))
//	post := posts.New(core.Attributes{"title": "Hello"})
//	err := post.Save(ctx)
func NewModel(schema *Schema, options ...ModelOption) *Model {
	m := &Model{schema: schema}
	for _, option := range options {
		option(m)
	}
	return m
}

// Schema returns the model's schema.
func (m *Model) Schema() *Schema { return m.schema }

// Collection resolves the collection handle through the model's connection
// or the process default.
func (m *Model) Collection() (Collection, error) {
	conn := m.connection
	if conn == nil {
		conn = Default()
	}
	if conn == nil {
		return nil, fmt.Errorf("%w for collection %q", ErrNoConnection, m.schema.Collection)
	}
	return conn.Collection(m.schema.Collection), nil
}

// New constructs a document from attrs. The attributes are taken as the
// initial state, not recorded as changes.
func (m *Model) New(attrs ...Attributes) *Document {
	initial := Attributes{}
	for _, a := range attrs {
		for k, v := range a {
			initial[k] = v
		}
	}
	return m.construct(initial)
}

// Hydrate constructs a document from a raw stored document, sharing the
// given map.
func (m *Model) Hydrate(raw Attributes) *Document {
	if raw == nil {
		raw = Attributes{}
	}
	return m.construct(raw)
}

func (m *Model) construct(attrs Attributes) *Document {
	d := &Document{
		model:      m,
		attributes: attrs,
		changed:    Attributes{},
		previous:   Attributes{},
		hooks:      NewHookRegistry(),
	}
	for _, configure := range m.schema.configure {
		configure(d)
	}
	return d
}

// Query opens a new query bound to the model's collection.
func (m *Model) Query() *Query {
	return newQuery(m)
}

// Index creates an index on the model's collection.
//
// Example:
//
//	name, err := posts.Index(ctx, []core.SortField{{Field: "slug", Direction: core.Asc}}, core.IndexOptions{Unique: true})
func (m *Model) Index(ctx context.Context, keys []SortField, options IndexOptions) (string, error) {
	coll, err := m.Collection()
	if err != nil {
		return "", err
	}
	return coll.Index(ctx, keys, options)
}

// Indexes lists the indexes of the model's collection.
func (m *Model) Indexes(ctx context.Context) ([]IndexInfo, error) {
	coll, err := m.Collection()
	if err != nil {
		return nil, err
	}
	return coll.Indexes(ctx)
}

// Where opens a query and applies Where. See Query.Where.
func (m *Model) Where(field any, value ...any) *Query { return m.Query().Where(field, value...) }

// Limit opens a query and applies Limit.
func (m *Model) Limit(n int64) *Query { return m.Query().Limit(n) }

// Skip opens a query and applies Skip.
func (m *Model) Skip(n int64) *Query { return m.Query().Skip(n) }

// Sort opens a query and applies Sort.
func (m *Model) Sort(field string, direction ...Direction) *Query {
	return m.Query().Sort(field, direction...)
}

// Exists opens a query and applies Exists.
func (m *Model) Exists(args ...any) *Query { return m.Query().Exists(args...) }

// Lt opens a query and applies Lt.
func (m *Model) Lt(args ...any) *Query { return m.Query().Lt(args...) }

// Lte opens a query and applies Lte.
func (m *Model) Lte(args ...any) *Query { return m.Query().Lte(args...) }

// Gt opens a query and applies Gt.
func (m *Model) Gt(args ...any) *Query { return m.Query().Gt(args...) }

// Gte opens a query and applies Gte.
func (m *Model) Gte(args ...any) *Query { return m.Query().Gte(args...) }

// Ne opens a query and applies Ne.
func (m *Model) Ne(args ...any) *Query { return m.Query().Ne(args...) }

// In opens a query and applies In.
func (m *Model) In(args ...any) *Query { return m.Query().In(args...) }

// Nin opens a query and applies Nin.
func (m *Model) Nin(args ...any) *Query { return m.Query().Nin(args...) }

// And opens a query and applies And.
func (m *Model) And(sets ...Criteria) *Query { return m.Query().And(sets...) }

// Or opens a query and applies Or.
func (m *Model) Or(sets ...Criteria) *Query { return m.Query().Or(sets...) }

// Nor opens a query and applies Nor.
func (m *Model) Nor(sets ...Criteria) *Query { return m.Query().Nor(sets...) }

// Populate opens a query and applies Populate.
func (m *Model) Populate(field string, ref ...*Model) *Query {
	return m.Query().Populate(field, ref...)
}

// Find runs a query filtered by criteria.
func (m *Model) Find(ctx context.Context, criteria ...Criteria) ([]*Document, error) {
	return m.Query().Find(ctx, criteria...)
}

// FindOne returns the first document matching criteria, or nil.
func (m *Model) FindOne(ctx context.Context, criteria ...Criteria) (*Document, error) {
	return m.Query().FindOne(ctx, criteria...)
}

// FindByID returns the document with the given _id, or nil.
func (m *Model) FindByID(ctx context.Context, id any) (*Document, error) {
	return m.Query().FindByID(ctx, id)
}

// All returns every document of the collection.
func (m *Model) All(ctx context.Context) ([]*Document, error) {
	return m.Query().All(ctx)
}

// Count returns the number of documents matching criteria.
func (m *Model) Count(ctx context.Context, criteria ...Criteria) (int64, error) {
	return m.Query().Count(ctx, criteria...)
}

// Remove deletes every document matching criteria without running
// document hooks.
func (m *Model) Remove(ctx context.Context, criteria ...Criteria) (Result, error) {
	return m.Query().Remove(ctx, criteria...)
}
