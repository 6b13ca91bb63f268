// Package core provides the fundamental building blocks of the mongorito ODM.
// It defines abstractions for documents, models, queries, hooks, and drivers.
package core

import (
	"context"
	"fmt"
	"strings"
)

// Direction is the ordering direction of a sort or index key.
type Direction int

const (
	// Asc orders from the smallest value to the largest.
	Asc Direction = 1
	// Desc orders from the largest value to the smallest.
	Desc Direction = -1
)

// SortField represents an ordering rule used in queries and index keys.
//
// Field specifies which document field to sort by.
// Direction determines the order: 1 for ascending, -1 for descending.
type SortField struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Modifiers encapsulates the pagination and ordering options of a query.
//
// A nil Limit or Skip means the modifier is absent. Populate names the
// reference fields to hydrate after the read; drivers ignore it.
type Modifiers struct {
	Limit    *int64
	Skip     *int64
	Sort     []SortField
	Populate map[string]*Model `json:"-"`
}

// Result reports the outcome of a write executed by a driver.
type Result struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
	Deleted  int64 `json:"deleted"`
}

// IndexOptions configures the creation of an index.
type IndexOptions struct {
	Name   string
	Unique bool
}

// IndexName derives the conventional index name from its keys.
//
// Example:
//
//	IndexName([]SortField{{"title", Asc}, {"created_at", Desc}}) // "title_1_created_at_-1"
func IndexName(keys []SortField) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s_%d", k.Field, k.Direction))
	}
	return strings.Join(parts, "_")
}

// IndexInfo describes an index reported by a driver.
//
// SQL drivers cannot map an index expression back to document fields, so
// they leave Keys empty and report the statement in Definition instead.
type IndexInfo struct {
	Name       string      `json:"name" yaml:"name"`
	Keys       []SortField `json:"keys,omitempty" yaml:"keys,omitempty"`
	Unique     bool        `json:"unique" yaml:"unique"`
	Definition string      `json:"definition,omitempty" yaml:"definition,omitempty"`
}

// Collection defines the contract of a storage collaborator for a single
// named collection.
//
// Implementations execute the criteria and modifier descriptors they are
// given; they never run hooks or touch documents beyond the raw attributes.
type Collection interface {
	// Name returns the collection name.
	Name() string
	// Insert persists attrs and returns the stored document, including the
	// assigned _id.
	Insert(ctx context.Context, attrs Attributes) (Attributes, error)
	// UpdateByID replaces the document identified by id with attrs.
	UpdateByID(ctx context.Context, id any, attrs Attributes) (Result, error)
	// Remove deletes every document matching the filter.
	Remove(ctx context.Context, filter Criteria) (Result, error)
	// Find returns the raw documents matching criteria, shaped by modifiers.
	Find(ctx context.Context, criteria Criteria, modifiers Modifiers) ([]Attributes, error)
	// Count returns the number of documents matching criteria.
	Count(ctx context.Context, criteria Criteria) (int64, error)
	// Index creates an index over the given keys and returns its name.
	Index(ctx context.Context, keys []SortField, options IndexOptions) (string, error)
	// Indexes lists the indexes of the collection.
	Indexes(ctx context.Context) ([]IndexInfo, error)
	// ID normalizes value into the identifier type native to the store.
	ID(value any) (any, error)
}

// Driver defines the contract for database backends supported by the ODM.
//
// Each driver (e.g., mongodb, postgres, sqlite, memory) must implement this
// interface and register an Opener for its URL schemes.
type Driver interface {
	// Ping checks if the underlying database is reachable.
	Ping(ctx context.Context) error
	// Close terminates the connection and releases resources.
	Close(ctx context.Context) error
	// Collection returns the raw handle for the named collection.
	Collection(name string) Collection
}

// Opener creates a Driver for a store URL.
type Opener func(ctx context.Context, url string) (Driver, error)
