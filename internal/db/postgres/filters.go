package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kailas-cloud/vectra/internal/domain/object"
	"github.com/kailas-cloud/vectra/internal/query"
)

// rawColumns are the stored columns addressable by filters and ordering.
var rawColumns = map[string]string{
	"object_id":   "object_id",
	"user_id":     "user_id",
	"session_id":  "session_id",
	"original_id": "original_id",
}

// numericPattern guards numeric casts so that non-numeric text yields
// NULL instead of a cast error.
const numericPattern = `^-?[0-9]+(\.[0-9]+)?$`

// sqlBuilder renders predicate nodes into SQL with positional
// parameters. Field paths and comparison values always travel as
// parameters; only the table alias and whitelisted column names are
// interpolated.
type sqlBuilder struct {
	alias string
	args  []any
}

func newSQLBuilder(alias string, args ...any) *sqlBuilder {
	return &sqlBuilder{alias: alias, args: args}
}

// arg appends a parameter and returns its placeholder.
func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// renderNode renders a predicate AST node into a SQL boolean expression.
func (b *sqlBuilder) renderNode(n query.Node) (string, error) {
	switch node := n.(type) {
	case query.And:
		return b.renderGroup(node.Nodes, " AND ", "TRUE")
	case query.Or:
		return b.renderGroup(node.Nodes, " OR ", "FALSE")
	case query.Not:
		inner, err := b.renderNode(node.Node)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case query.Cond:
		return b.renderCond(node)
	default:
		return "", fmt.Errorf("unknown predicate node %T", n)
	}
}

func (b *sqlBuilder) renderGroup(nodes []query.Node, sep, empty string) (string, error) {
	if len(nodes) == 0 {
		return empty, nil
	}
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		s, err := b.renderNode(n)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *sqlBuilder) renderCond(c query.Cond) (string, error) {
	f := b.resolveField(c.Field, c.Raw)
	switch c.Op {
	case query.OpExists:
		return b.renderExists(f), nil
	case query.OpEq:
		return b.renderEq(f, c.Value), nil
	case query.OpIn:
		return b.renderIn(f, c.Values), nil
	case query.OpContains:
		return b.renderContains(f, c.Value), nil
	case query.OpPhrase:
		return b.renderPhrase(f, c.Value), nil
	case query.OpWildcard:
		return b.renderWildcard(f, c.Value), nil
	case query.OpGT, query.OpGTE, query.OpLT, query.OpLTE:
		return b.renderRange(f, c.Op, c.Value)
	default:
		return "", fmt.Errorf("unknown operator %q", c.Op)
	}
}

// fieldExpr is one resolved filter target: either a stored column or a
// path into one of the jsonb documents.
type fieldExpr struct {
	column string // set for stored columns
	json   string // "alias.payload #> $n" for json targets
	text   string // text form: the column itself, or "#>>" for json
}

func (b *sqlBuilder) resolveField(field string, raw bool) fieldExpr {
	if raw {
		if col, ok := rawColumns[field]; ok {
			c := b.alias + "." + col
			return fieldExpr{column: c, text: c}
		}
		return b.jsonField("storage_meta", field)
	}
	return b.jsonField("payload", field)
}

func (b *sqlBuilder) jsonField(source, field string) fieldExpr {
	path := strings.Split(field, ".")
	p := b.arg(path)
	doc := b.alias + "." + source
	return fieldExpr{
		json: fmt.Sprintf("%s #> %s", doc, p),
		text: fmt.Sprintf("%s #>> %s", doc, p),
	}
}

// numExpr wraps the text form in a guarded numeric cast.
func numExpr(text string) string {
	return fmt.Sprintf("(CASE WHEN (%s) ~ '%s' THEN (%s)::numeric END)", text, numericPattern, text)
}

// renderExists checks field presence. Stored columns use the empty
// string as absent; json fields must be present and non-null.
func (b *sqlBuilder) renderExists(f fieldExpr) string {
	if f.column != "" {
		return fmt.Sprintf("%s <> ''", f.column)
	}
	return fmt.Sprintf("(%s IS NOT NULL AND %s <> 'null'::jsonb)", f.json, f.json)
}

// renderEq compares type-aware. For json fields, jsonb containment
// covers exact scalar equality and array membership in one operator;
// a guarded numeric branch adds the number-vs-numeric-string match.
func (b *sqlBuilder) renderEq(f fieldExpr, v object.Value) string {
	if f.column != "" {
		s, _ := v.AsString()
		return fmt.Sprintf("%s = %s", f.column, b.arg(s))
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		raw = []byte("null")
	}
	expr := fmt.Sprintf("%s @> %s::jsonb", f.json, b.arg(string(raw)))
	if n, ok := v.AsNumber(); ok && v.Kind() != object.KindBool {
		expr = fmt.Sprintf("(%s OR %s = %s::numeric)", expr, numExpr(f.text), b.arg(n))
	}
	return expr
}

func (b *sqlBuilder) renderIn(f fieldExpr, vs []object.Value) string {
	if len(vs) == 0 {
		return "FALSE"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = b.renderEq(f, v)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// renderContains requires every query token as a whole word, matching
// the tokenized in-memory evaluation. Tokens come out of tokenize as
// bare letter/digit runs, so they carry no regex metacharacters.
func (b *sqlBuilder) renderContains(f fieldExpr, v object.Value) string {
	s, _ := v.AsString()
	tokens := tokenize(s)
	if len(tokens) == 0 {
		return "TRUE"
	}
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = fmt.Sprintf("%s ~* %s", f.text, b.arg(`\m`+tok+`\M`))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (b *sqlBuilder) renderPhrase(f fieldExpr, v object.Value) string {
	s, _ := v.AsString()
	phrase := strings.Join(strings.Fields(s), " ")
	return fmt.Sprintf("%s ILIKE %s", f.text, b.arg("%"+escapeLike(phrase)+"%"))
}

func (b *sqlBuilder) renderWildcard(f fieldExpr, v object.Value) string {
	s, _ := v.AsString()
	return fmt.Sprintf("%s ILIKE %s", f.text, b.arg(globToLike(s)))
}

func (b *sqlBuilder) renderRange(f fieldExpr, op query.Op, v object.Value) (string, error) {
	n, ok := v.AsNumber()
	if !ok {
		return "", fmt.Errorf("range bound for %q is not numeric", op)
	}
	var cmp string
	switch op {
	case query.OpGT:
		cmp = ">"
	case query.OpGTE:
		cmp = ">="
	case query.OpLT:
		cmp = "<"
	case query.OpLTE:
		cmp = "<="
	}
	return fmt.Sprintf("%s %s %s::numeric", numExpr(f.text), cmp, b.arg(n)), nil
}

// tokenize lowercases and splits on non-alphanumeric runs.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// escapeLike escapes LIKE metacharacters in a literal fragment.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// globToLike translates a glob pattern (* and ?) into a LIKE pattern.
func globToLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
