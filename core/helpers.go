// Package core provides the fundamental building blocks of the mongorito ODM.
// This file contains helper functions for reflection, value copying and
// struct decoding.
package core

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// deepCopy copies maps and slices recursively, preserving the named map
// types used by the package. Other values are returned as-is.
func deepCopy(v any) any {
	switch t := v.(type) {
	case Criteria:
		out := make(Criteria, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case Attributes:
		out := make(Attributes, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []Criteria:
		out := make([]Criteria, len(t))
		for i, item := range t {
			out[i] = deepCopy(item).(Criteria)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}

// ToSlice converts any slice or array into []any. Non-slice values are
// wrapped as a single element; nil yields nil.
//
// Example:
//
//	ToSlice([]string{"a", "b"}) // []any{"a", "b"}
//	ToSlice(42)                 // []any{42}
func ToSlice(v any) []any {
	if v == nil {
		return nil
	}
	if slice, ok := v.([]any); ok {
		return slice
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// byte slices and arrays (e.g. object ids) are scalar values.
			return []any{v}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = rv.Index(i).Interface()
		}
		return out
	default:
		return []any{v}
	}
}

// isSequence reports whether v is a slice or array of something other than
// bytes.
func isSequence(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Type().Elem().Kind() != reflect.Uint8
	}
	return false
}

// fieldKey returns the attribute name a struct field decodes from: the
// bson tag, then the json tag, then the Go name.
func fieldKey(sf reflect.StructField) string {
	for _, tag := range []string{"bson", "json"} {
		if name, _, _ := strings.Cut(sf.Tag.Get(tag), ","); name != "" && name != "-" {
			return name
		}
	}
	return sf.Name
}

// mapToStruct copies row into the struct pointed to by out.
//
// Keys are matched against tag names first and then case-insensitively
// against Go field names. Values are assigned directly, through pointer
// wrapping/unwrapping, or by conversion; incompatible values are skipped.
func mapToStruct(row map[string]any, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: decode target must be a non-nil struct pointer, got %T", ErrInvalidArgument, out)
	}
	value := rv.Elem()
	typ := value.Type()

	for _, sf := range reflect.VisibleFields(typ) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		key := fieldKey(sf)
		rowValue, ok := row[key]
		if !ok {
			for k, v := range row {
				if strings.EqualFold(k, sf.Name) {
					rowValue, ok = v, true
					break
				}
			}
		}
		if !ok {
			continue
		}
		field := value.FieldByIndex(sf.Index)
		if !field.CanSet() {
			continue
		}
		assignValue(field, rowValue)
	}
	return nil
}

func assignValue(field reflect.Value, rowValue any) {
	if rowValue == nil {
		if field.Kind() == reflect.Pointer {
			field.Set(reflect.Zero(field.Type()))
		}
		return
	}

	// unix seconds into time fields
	if field.Type() == reflect.TypeOf(time.Time{}) {
		if secs, ok := toInt64(rowValue); ok {
			field.Set(reflect.ValueOf(time.Unix(secs, 0)))
			return
		}
	}

	rv := reflect.ValueOf(rowValue)

	// 1) exactly compatible type
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return
	}

	// 2) value → pointer (e.g. string → *string)
	if field.Kind() == reflect.Pointer && rv.Type().AssignableTo(field.Type().Elem()) {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(rv)
		field.Set(ptr)
		return
	}

	// 3) pointer → value
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem().AssignableTo(field.Type()) {
		field.Set(rv.Elem())
		return
	}

	// 4) conversions, never between numbers and strings
	if rv.Type().ConvertibleTo(field.Type()) && sameFamily(rv.Kind(), field.Kind()) {
		field.Set(rv.Convert(field.Type()))
		return
	}
	if field.Kind() == reflect.Pointer && rv.Type().ConvertibleTo(field.Type().Elem()) && sameFamily(rv.Kind(), field.Type().Elem().Kind()) {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(rv.Convert(field.Type().Elem()))
		field.Set(ptr)
		return
	}

	// 5) sequences element by element
	if field.Kind() == reflect.Slice && isSequence(rowValue) {
		items := ToSlice(rowValue)
		slice := reflect.MakeSlice(field.Type(), len(items), len(items))
		for i, item := range items {
			assignValue(slice.Index(i), item)
		}
		field.Set(slice)
	}
}

func sameFamily(a, b reflect.Kind) bool {
	return isNumberKind(a) == isNumberKind(b) && (a == reflect.String) == (b == reflect.String)
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// toInt64 converts any integer or float value to int64.
func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return int64(rv.Float()), true
	}
	return 0, false
}
