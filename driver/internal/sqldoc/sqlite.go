package sqldoc

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/waigo/mongorito/core"
	"github.com/waigo/mongorito/internal/docjson"
)

// SQLite renders documents as JSON text read with the json1 functions.
var SQLite Dialect = sqlite{}

type sqlite struct{}

func (sqlite) Placeholder() sq.PlaceholderFormat { return sq.Question }

func (sqlite) DocumentType() string { return "TEXT" }

func (sqlite) Document(data string) sq.Sqlizer {
	return sq.Expr("json(?)", data)
}

// Value renders json_extract(doc, '$."a"."b"').
func (sqlite) Value(path []string) string {
	return "json_extract(doc, " + sqlitePath(path) + ")"
}

func (s sqlite) Eq(path []string, value any) (sq.Sqlizer, error) {
	expr, p := s.Value(path), sqlitePath(path)
	if value == nil {
		return sq.Expr(fmt.Sprintf("(json_type(doc, %s) IS NULL OR json_type(doc, %s) = 'null')", p, p)), nil
	}
	arg, scalar, err := sqliteValue(value)
	if err != nil {
		return nil, err
	}
	if !scalar {
		return sq.Expr(fmt.Sprintf("%s = json(?)", expr), arg), nil
	}
	return sq.Expr(fmt.Sprintf(
		"(%s = ? OR (json_type(doc, %s) = 'array' AND EXISTS (SELECT 1 FROM json_each(doc, %s) WHERE value = ?)))",
		expr, p, p,
	), arg, arg), nil
}

func (s sqlite) Compare(path []string, op string, value any) (sq.Sqlizer, error) {
	arg, scalar, err := sqliteValue(value)
	if err != nil {
		return nil, err
	}
	if !scalar {
		return nil, fmt.Errorf("%w: cannot order by %T", core.ErrInvalidArgument, value)
	}
	var types string
	switch value.(type) {
	case bool:
		types = "'true', 'false'"
	default:
		switch arg.(type) {
		case string:
			types = "'text'"
		default:
			types = "'integer', 'real'"
		}
	}
	return sq.Expr(fmt.Sprintf(
		"(json_type(doc, %s) IN (%s) AND %s %s ?)",
		sqlitePath(path), types, s.Value(path), op,
	), arg), nil
}

func (sqlite) Exists(path []string) sq.Sqlizer {
	return sq.Expr("json_type(doc, " + sqlitePath(path) + ") IS NOT NULL")
}

func (sqlite) Regex([]string, string, string) (sq.Sqlizer, error) {
	return nil, fmt.Errorf("%w: $regex on sqlite", core.ErrUnsupportedOperator)
}

func (sqlite) Indexes(table string) sq.Sqlizer {
	return sq.Select("name", "COALESCE(sql, '')").
		From("sqlite_master").
		Where(sq.Eq{"type": "index", "tbl_name": table}).
		OrderBy("name")
}

func (sqlite) Primary(name, _ string) bool {
	return strings.HasPrefix(name, "sqlite_autoindex_")
}

// sqliteValue converts value to what json_extract returns for it: text,
// integer or real, with booleans as 1 and 0. Objects and arrays come back
// as JSON text with scalar set to false.
func sqliteValue(value any) (arg any, scalar bool, err error) {
	arg, scalar, err = docjson.Scalar(value)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	if b, ok := arg.(bool); ok {
		if b {
			return int64(1), true, nil
		}
		return int64(0), true, nil
	}
	return arg, scalar, nil
}

// sqlitePath renders a JSON path literal, e.g. '$."author"."name"'.
func sqlitePath(path []string) string {
	var b strings.Builder
	b.WriteString("'$")
	for _, seg := range path {
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	b.WriteString("'")
	return b.String()
}
