package qfilter

import (
	"fmt"
	"strings"
)

// SQLEncoderOptions configures tree lowering.
type SQLEncoderOptions struct {
	// Catalog supplies field kinds so comparisons can cast out of JSONB
	// text. Fields the catalog no longer knows compare as text.
	Catalog FieldCatalog

	// Column is the JSONB column holding entity properties. Defaults to
	// "properties". It is an identifier chosen by the caller, never user
	// input.
	Column string

	// ArgOffset is the number of placeholders the enclosing query has
	// already claimed; emitted placeholders start at ArgOffset+1.
	ArgOffset int
}

// SQLEncoder lowers predicate trees onto parameterized Postgres WHERE
// fragments over a JSONB properties column. Field paths map to JSONB
// accessors segment by segment, so "address__city" reads the nested object.
type SQLEncoder struct {
	opts SQLEncoderOptions
}

// NewSQLEncoder returns an encoder for the given options. A nil options
// pointer selects the defaults.
func NewSQLEncoder(opts *SQLEncoderOptions) *SQLEncoder {
	e := &SQLEncoder{}
	if opts != nil {
		e.opts = *opts
	}
	if e.opts.Column == "" {
		e.opts.Column = "properties"
	}
	return e
}

// Encode renders the tree as a WHERE fragment plus its positional arguments.
// The identity tree renders as the empty string with no arguments; callers
// omit the clause entirely in that case.
func (e *SQLEncoder) Encode(tree Node) (string, []any, error) {
	b := &sqlBuilder{opts: e.opts}

	groups := groupsOf(tree)
	rendered := make([]string, 0, len(groups))
	for _, g := range groups {
		clause, err := b.group(g)
		if err != nil {
			return "", nil, err
		}
		if clause == "" {
			continue
		}
		rendered = append(rendered, clause)
	}

	switch len(rendered) {
	case 0:
		return "", nil, nil
	case 1:
		return rendered[0], b.args, nil
	default:
		for i, clause := range rendered {
			rendered[i] = "(" + clause + ")"
		}
		return strings.Join(rendered, " OR "), b.args, nil
	}
}

type sqlBuilder struct {
	opts SQLEncoderOptions
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", b.opts.ArgOffset+len(b.args))
}

func (b *sqlBuilder) group(g And) (string, error) {
	parts := make([]string, 0, len(g.Children))
	for _, cmp := range g.Children {
		clause, err := b.comparison(cmp)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *sqlBuilder) comparison(cmp Comparison) (string, error) {
	field, op := splitKey(cmp.Key)
	accessor := b.accessor(field)
	kind := b.kindOf(field)

	var clause string
	switch op {
	case "":
		// Bare key: booleans and nulls encode their operator in the
		// operand, anything else is plain case-sensitive equality.
		switch v := cmp.Value.(type) {
		case bool:
			clause = boolCheck(accessor, v)
		case nil:
			clause = accessor + " IS NULL"
		default:
			text, err := valueText(v)
			if err != nil {
				return "", fmt.Errorf("comparison %q: %w", cmp.Key, err)
			}
			clause = accessor + " = " + b.arg(text)
		}

	case OpEquals:
		text, err := valueText(cmp.Value)
		if err != nil {
			return "", fmt.Errorf("comparison %q: %w", cmp.Key, err)
		}
		clause = "LOWER(" + accessor + ") = LOWER(" + b.arg(text) + ")"

	case OpContains, OpStartsWith, OpEndsWith:
		text, err := valueText(cmp.Value)
		if err != nil {
			return "", fmt.Errorf("comparison %q: %w", cmp.Key, err)
		}
		pattern := escapeLike(text)
		switch op {
		case OpContains:
			pattern = "%" + pattern + "%"
		case OpStartsWith:
			pattern += "%"
		default:
			pattern = "%" + pattern
		}
		clause = accessor + " ILIKE " + b.arg(pattern)

	case OpIn:
		text, err := valueText(cmp.Value)
		if err != nil {
			return "", fmt.Errorf("comparison %q: %w", cmp.Key, err)
		}
		clause = accessor + " = ANY(" + b.arg(splitList(text)) + ")"

	case OpGt, OpGte, OpLt, OpLte:
		text, err := valueText(cmp.Value)
		if err != nil {
			return "", fmt.Errorf("comparison %q: %w", cmp.Key, err)
		}
		cast := castFor(kind)
		clause = fmt.Sprintf("(%s)%s %s %s%s", accessor, cast, orderSymbol(op), b.arg(text), cast)

	case OpRange:
		text, err := valueText(cmp.Value)
		if err != nil {
			return "", fmt.Errorf("comparison %q: %w", cmp.Key, err)
		}
		lo, hi, ok := strings.Cut(text, ",")
		if !ok {
			return "", fmt.Errorf("comparison %q: malformed range operand %q", cmp.Key, text)
		}
		cast := rangeCastFor(kind)
		clause = fmt.Sprintf("(%s)%s BETWEEN %s%s AND %s%s",
			accessor, cast, b.arg(strings.TrimSpace(lo)), cast, b.arg(strings.TrimSpace(hi)), cast)

	case OpIsNull:
		if v, ok := cmp.Value.(bool); ok && !v {
			clause = accessor + " IS NOT NULL"
		} else {
			clause = accessor + " IS NULL"
		}

	case OpIsTrue:
		clause = boolCheck(accessor, true)
	case OpIsFalse:
		clause = boolCheck(accessor, false)

	default:
		return "", fmt.Errorf("comparison %q: operator %q has no SQL form", cmp.Key, op)
	}

	if cmp.Negate {
		clause = "NOT (" + clause + ")"
	}
	return clause, nil
}

// accessor renders the JSONB path for a field: single segments read the top
// level, multi-segment paths descend with -> and extract the last segment as
// text with ->>.
func (b *sqlBuilder) accessor(field string) string {
	segments := fieldSegments(field)
	var sb strings.Builder
	sb.WriteString(b.opts.Column)
	for i, seg := range segments {
		if i == len(segments)-1 {
			sb.WriteString("->>")
		} else {
			sb.WriteString("->")
		}
		sb.WriteString(quoteJSONKey(seg))
	}
	return sb.String()
}

func (b *sqlBuilder) kindOf(field string) FieldKind {
	if b.opts.Catalog == nil {
		return KindText
	}
	f, ok := b.opts.Catalog.Resolve(field)
	if !ok {
		return KindText
	}
	return f.Kind
}

func boolCheck(accessor string, want bool) string {
	if want {
		return "(" + accessor + ")::boolean IS TRUE"
	}
	return "(" + accessor + ")::boolean IS FALSE"
}

func orderSymbol(op Operator) string {
	switch op {
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	default:
		return "<="
	}
}

// castFor chooses the cast applied to both sides of an ordered comparison.
// JSONB text extraction always yields text, so ordering only behaves once
// both sides share the field's real type.
func castFor(kind FieldKind) string {
	switch kind {
	case KindInteger, KindFloat:
		return "::numeric"
	case KindDate:
		return "::date"
	case KindTimestamp:
		return "::timestamptz"
	default:
		return ""
	}
}

// rangeCastFor is castFor with the text fallback pinned to date: range
// operands normalize to calendar dates whenever the field is not numeric.
func rangeCastFor(kind FieldKind) string {
	switch kind {
	case KindInteger, KindFloat:
		return "::numeric"
	case KindTimestamp:
		return "::timestamptz"
	default:
		return "::date"
	}
}

func splitList(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func quoteJSONKey(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
