package core

import (
	"encoding/json"
	"sort"
)

// Attributes is the body of a document: field names mapped to scalars,
// nested mappings, sequences or references to other documents.
type Attributes map[string]any

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	return deepCopy(a).(Attributes)
}

// Get returns the value stored at key, or nil when the key was never set.
func (d *Document) Get(key string) any {
	return d.attributes[key]
}

// Attributes returns the attribute mapping itself. Callers must not rely on
// mutation isolation.
func (d *Document) Attributes() Attributes {
	return d.attributes
}

// Set writes value at key, remembering the value it replaced and recording
// the change. It returns value.
func (d *Document) Set(key string, value any) any {
	d.previous[key] = d.Get(key)
	d.attributes[key] = value
	d.changed[key] = value
	return value
}

// SetAll applies Set for every entry of attrs, in sorted key order.
func (d *Document) SetAll(attrs Attributes) {
	for _, k := range attrs.Keys() {
		d.Set(k, attrs[k])
	}
}

// SetDefaults fills every schema default whose attribute is unset.
func (d *Document) SetDefaults() {
	defaults := d.model.schema.Defaults
	for _, k := range defaults.Keys() {
		if d.Get(k) == nil {
			d.Set(k, deepCopy(defaults[k]))
		}
	}
}

// Changed returns the latest value set for every field since construction.
func (d *Document) Changed() Attributes {
	return d.changed
}

// Previous returns the value key held right before its most recent Set.
// The boolean is false when key was never Set.
func (d *Document) Previous(key string) (any, bool) {
	v, ok := d.previous[key]
	return v, ok
}

// MarshalJSON serializes the raw attributes.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.attributes)
}

// Decode copies the attributes into the struct pointed to by out.
//
// Example:
//
//	var post struct {
//		ID    string `bson:"_id"`
//		Title string
//	}
//	_ = doc.Decode(&post)
func (d *Document) Decode(out any) error {
	return mapToStruct(d.attributes, out)
}
