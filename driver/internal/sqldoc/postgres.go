package sqldoc

import (
	"encoding/json"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/waigo/mongorito/core"
)

// Postgres renders documents as JSONB and paths with the #> operator.
var Postgres Dialect = postgres{}

type postgres struct{}

func (postgres) Placeholder() sq.PlaceholderFormat { return sq.Dollar }

func (postgres) DocumentType() string { return "JSONB" }

func (postgres) Document(data string) sq.Sqlizer {
	return sq.Expr("CAST(? AS jsonb)", data)
}

// Value renders doc #> '{"a","b"}'.
func (postgres) Value(path []string) string {
	return "doc #> " + pgPath(path)
}

func (p postgres) Eq(path []string, value any) (sq.Sqlizer, error) {
	expr := p.Value(path)
	if value == nil {
		return sq.Expr(fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", expr, expr)), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return sq.Expr(fmt.Sprintf(
		"(%s = CAST(? AS jsonb) OR (jsonb_typeof(%s) = 'array' AND %s @> jsonb_build_array(CAST(? AS jsonb))))",
		expr, expr, expr,
	), string(data), string(data)), nil
}

func (p postgres) Compare(path []string, op string, value any) (sq.Sqlizer, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	expr := p.Value(path)
	return sq.Expr(fmt.Sprintf(
		"(jsonb_typeof(%s) = jsonb_typeof(CAST(? AS jsonb)) AND %s %s CAST(? AS jsonb))",
		expr, expr, op,
	), string(data), string(data)), nil
}

func (p postgres) Exists(path []string) sq.Sqlizer {
	return sq.Expr(p.Value(path) + " IS NOT NULL")
}

// Regex uses POSIX matching, case-insensitive with the i option. The x
// option is passed on as an embedded option.
func (p postgres) Regex(path []string, pattern, options string) (sq.Sqlizer, error) {
	op := "~"
	for _, o := range options {
		switch o {
		case 'i':
			op = "~*"
		case 'x':
			pattern = "(?x)" + pattern
		default:
			return nil, fmt.Errorf("%w: regex option %q", core.ErrUnsupportedOperator, o)
		}
	}
	if path == nil {
		return sq.Expr("id "+op+" ?", pattern), nil
	}
	expr := p.Value(path)
	return sq.Expr(fmt.Sprintf("(jsonb_typeof(%s) = 'string' AND doc #>> %s %s ?)", expr, pgPath(path), op), pattern), nil
}

func (postgres) Indexes(table string) sq.Sqlizer {
	return sq.Select("indexname", "indexdef").
		From("pg_indexes").
		Where(sq.Eq{"tablename": table}).
		OrderBy("indexname")
}

func (postgres) Primary(name, _ string) bool {
	return strings.HasSuffix(name, "_pkey")
}

// pgPath renders a text array literal, e.g. '{"author","name"}'.
func pgPath(path []string) string {
	quoted := make([]string, len(path))
	for i, seg := range path {
		quoted[i] = `"` + seg + `"`
	}
	return "'{" + strings.Join(quoted, ",") + "}'"
}
