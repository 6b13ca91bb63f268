// Package sqldoc stores documents in SQL tables and translates criteria into
// SQL over them.
//
// Every collection is a table with two columns: id, the primary key, and
// doc, the document without its _id encoded as JSON. A Dialect renders the
// JSON path expressions of one engine; the Builder assembles complete
// statements with squirrel.
package sqldoc

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/internal/docjson"
)

// Dialect renders JSON document predicates for one SQL engine.
//
// Paths are the dot-separated segments of a field name, already validated.
type Dialect interface {
	// Placeholder is the bind parameter format of the engine.
	Placeholder() sq.PlaceholderFormat
	// DocumentType is the column type holding documents.
	DocumentType() string
	// Document wraps JSON text for storage in the doc column.
	Document(data string) sq.Sqlizer
	// Value is the expression of the JSON value at path, used for ordering
	// and indexes.
	Value(path []string) string
	// Eq matches documents whose value at path equals value, or holds it
	// when the stored value is an array.
	Eq(path []string, value any) (sq.Sqlizer, error)
	// Compare matches values of the same JSON type ordered by op against
	// value. op is one of > >= < <=.
	Compare(path []string, op string, value any) (sq.Sqlizer, error)
	// Exists matches documents that have a value, possibly null, at path.
	Exists(path []string) sq.Sqlizer
	// Regex matches string values against pattern. A nil path addresses
	// the id column.
	Regex(path []string, pattern, options string) (sq.Sqlizer, error)
	// Indexes lists the name and definition of every index on table.
	Indexes(table string) sq.Sqlizer
	// Primary reports whether an index listed by Indexes backs the id
	// column.
	Primary(name, definition string) bool
}

// Builder builds the statements of one collection.
type Builder struct {
	dialect Dialect
	name    string
	table   string
	sb      sq.StatementBuilderType
}

// NewBuilder returns a Builder for the collection stored in table name.
func NewBuilder(d Dialect, name string) *Builder {
	return &Builder{
		dialect: d,
		name:    name,
		table:   QuoteIdent(name),
		sb:      sq.StatementBuilder.PlaceholderFormat(d.Placeholder()),
	}
}

// Table returns the quoted table name.
func (b *Builder) Table() string { return b.table }

// CreateTable returns the statement creating the collection table.
func (b *Builder) CreateTable() string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc %s NOT NULL)", b.table, b.dialect.DocumentType())
}

// Insert returns the statement storing doc under id.
func (b *Builder) Insert(id string, doc core.Attributes) (string, []any, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", nil, err
	}
	return b.sb.Insert(b.table).Columns("id", "doc").Values(id, b.dialect.Document(data)).ToSql()
}

// Replace returns the statement overwriting the document stored under id.
func (b *Builder) Replace(id string, doc core.Attributes) (string, []any, error) {
	data, err := Encode(doc)
	if err != nil {
		return "", nil, err
	}
	return b.sb.Update(b.table).Set("doc", b.dialect.Document(data)).Where(sq.Eq{"id": id}).ToSql()
}

// Select returns the query reading id and doc of the matching documents.
func (b *Builder) Select(criteria core.Criteria, modifiers core.Modifiers) (string, []any, error) {
	query := b.sb.Select("id", "doc").From(b.table)
	query, err := b.where(query, criteria)
	if err != nil {
		return "", nil, err
	}

	for _, f := range modifiers.Sort {
		expr, err := b.value(f.Field)
		if err != nil {
			return "", nil, err
		}
		if f.Direction == core.Desc {
			query = query.OrderBy(expr + " DESC NULLS LAST")
		} else {
			query = query.OrderBy(expr + " ASC NULLS FIRST")
		}
	}

	skip := modifiers.Skip != nil && *modifiers.Skip > 0
	switch {
	case modifiers.Limit != nil && *modifiers.Limit > 0:
		query = query.Limit(uint64(*modifiers.Limit))
	case skip:
		// OFFSET needs a LIMIT on some engines
		query = query.Limit(math.MaxInt64)
	}
	if skip {
		query = query.Offset(uint64(*modifiers.Skip))
	}
	return query.ToSql()
}

// Count returns the query counting the matching documents.
func (b *Builder) Count(criteria core.Criteria) (string, []any, error) {
	query, err := b.where(b.sb.Select("COUNT(*)").From(b.table), criteria)
	if err != nil {
		return "", nil, err
	}
	return query.ToSql()
}

// Delete returns the statement removing the matching documents.
func (b *Builder) Delete(criteria core.Criteria) (string, []any, error) {
	query := b.sb.Delete(b.table)
	if len(criteria) > 0 {
		pred, err := b.Where(criteria)
		if err != nil {
			return "", nil, err
		}
		query = query.Where(pred)
	}
	return query.ToSql()
}

func (b *Builder) where(query sq.SelectBuilder, criteria core.Criteria) (sq.SelectBuilder, error) {
	if len(criteria) == 0 {
		return query, nil
	}
	pred, err := b.Where(criteria)
	if err != nil {
		return query, err
	}
	return query.Where(pred), nil
}

// IndexName is the name an index of this collection gets in the database.
// Index names share one namespace per database, so the table name prefixes
// them.
func (b *Builder) IndexName(name string) string {
	return b.name + "." + name
}

// CreateIndex returns the statement creating an index over keys. Paths are
// rendered as literals since DDL takes no bind parameters.
func (b *Builder) CreateIndex(name string, keys []core.SortField, unique bool) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: index needs at least one key", core.ErrInvalidArgument)
	}
	columns := make([]string, 0, len(keys))
	for _, k := range keys {
		expr, err := b.value(k.Field)
		if err != nil {
			return "", err
		}
		if k.Field != core.IDField {
			expr = "(" + expr + ")"
		}
		if k.Direction == core.Desc {
			columns = append(columns, expr+" DESC")
		} else {
			columns = append(columns, expr+" ASC")
		}
	}

	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, QuoteIdent(b.IndexName(name)), b.table, strings.Join(columns, ", ")), nil
}

// Indexes returns the query listing the indexes of the collection. Rows
// hold the index name and its definition.
func (b *Builder) Indexes() (string, []any, error) {
	query, args, err := b.dialect.Indexes(b.name).ToSql()
	if err != nil {
		return "", nil, err
	}
	query, err = b.dialect.Placeholder().ReplacePlaceholders(query)
	return query, args, err
}

// IndexInfo maps a row of the Indexes query. ok is false for indexes that
// do not belong to the collection's namespace.
func (b *Builder) IndexInfo(name, definition string) (core.IndexInfo, bool) {
	if b.dialect.Primary(name, definition) {
		return core.IndexInfo{
			Name:       "_id_",
			Keys:       []core.SortField{{Field: core.IDField, Direction: core.Asc}},
			Unique:     true,
			Definition: definition,
		}, true
	}
	short, ok := strings.CutPrefix(name, b.name+".")
	if !ok {
		return core.IndexInfo{}, false
	}
	return core.IndexInfo{
		Name:       short,
		Unique:     strings.Contains(strings.ToUpper(definition), "UNIQUE"),
		Definition: definition,
	}, true
}

// value returns the ordering expression of field.
func (b *Builder) value(field string) (string, error) {
	if field == core.IDField {
		return "id", nil
	}
	path, err := SplitPath(field)
	if err != nil {
		return "", err
	}
	return b.dialect.Value(path), nil
}

// Encode renders doc as the JSON stored in the doc column. The _id lives
// in its own column and is left out.
func Encode(doc core.Attributes) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != core.IDField {
			body[k] = v
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("sqldoc: encode document: %w", err)
	}
	return string(data), nil
}

// Decode rebuilds a document from its id and stored JSON.
func Decode(id string, data []byte) (core.Attributes, error) {
	doc, err := docjson.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	doc[core.IDField] = id
	return doc, nil
}

// QuoteIdent quotes an SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// SplitPath splits a dotted field name into path segments. Segments may
// not be empty nor hold characters that would escape a path literal or be
// mistaken for a placeholder.
func SplitPath(field string) ([]string, error) {
	path := strings.Split(field, ".")
	for _, seg := range path {
		if seg == "" || strings.ContainsAny(seg, "\"'\\?") {
			return nil, fmt.Errorf("%w: field name %q", core.ErrInvalidArgument, field)
		}
	}
	return path, nil
}

// ID normalizes an identifier to the text stored in the id column.
func ID(value any) (string, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%w: empty id", core.ErrInvalidArgument)
		}
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", fmt.Errorf("%w: id must be a string, got %T", core.ErrInvalidArgument, value)
}
