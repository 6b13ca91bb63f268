// Package core provides the fundamental building blocks of the mongorito ODM.
// This file defines the schema system, which binds a model type to its
// collection, default attributes, reference fields and hook configuration.
package core

import "sort"

// Schema is the per-type configuration of a model.
//
// It holds what every instance of the type shares: the collection it
// persists to, the defaults filled on save, the reference fields flattened
// on save, and the configure steps run for every new instance.
type Schema struct {
	Collection string
	Defaults   Attributes
	// Populate maps reference fields to the model they point to. The model
	// may be nil when it is only known at query time.
	Populate  map[string]*Model
	configure []func(*Document)
}

// SchemaOption is a function used to configure a Schema.
type SchemaOption func(*Schema)

// Defaults adds default attributes, filled on save when unset.
func Defaults(defaults Attributes) SchemaOption {
	return func(s *Schema) {
		for k, v := range defaults {
			s.Defaults[k] = v
		}
	}
}

// Populate declares field as a reference to documents of ref. The field is
// flattened to identifiers on save; queries hydrate it back when asked to.
func Populate(field string, ref *Model) SchemaOption {
	return func(s *Schema) { s.Populate[field] = ref }
}

// Configure adds an extension point run against every instance at
// construction, typically to register hooks bound to the instance.
//
// Example:
//
//	core.Configure(func(d *core.Document) {
//		d.Before(core.ActionSave, slugify)
//	})
func Configure(fn func(*Document)) SchemaOption {
	return func(s *Schema) { s.configure = append(s.configure, fn) }
}

// Hook registers fns for phase and action on every instance.
func Hook(phase Phase, action Action, fns ...HookFunc) SchemaOption {
	return Configure(func(d *Document) { _ = d.Hook(phase, action, fns...) })
}

// NewSchema builds a Schema for collection and applies the given options.
//
// Example:
//
//	posts := core.NewSchema("posts",
//		core.Defaults(core.Attributes{"status": "draft"}),
//		core.Populate("author", users),
//	)
func NewSchema(collection string, options ...SchemaOption) *Schema {
	schema := &Schema{
		Collection: collection,
		Defaults:   Attributes{},
		Populate:   map[string]*Model{},
	}
	for _, option := range options {
		option(schema)
	}
	return schema
}

// populateFields returns the declared reference fields in sorted order.
func (s *Schema) populateFields() []string {
	fields := make([]string, 0, len(s.Populate))
	for k := range s.Populate {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
