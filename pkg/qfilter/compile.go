package qfilter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldKind is the coarse value type of a filterable field. It drives range
// normalization at compile time and casts when a tree is lowered to SQL.
type FieldKind string

const (
	KindText      FieldKind = "text"
	KindInteger   FieldKind = "integer"
	KindFloat     FieldKind = "float"
	KindBoolean   FieldKind = "boolean"
	KindDate      FieldKind = "date"
	KindTimestamp FieldKind = "timestamp"
	KindJSON      FieldKind = "json"
)

// Field describes one filterable field as the catalog advertises it.
type Field struct {
	Path  string    `json:"path"`
	Label string    `json:"label"`
	Kind  FieldKind `json:"kind"`
}

// FieldCatalog resolves field paths for validation and typing. Resolve must
// be safe for concurrent use; implementations are expected to be snapshots,
// not live lookups.
type FieldCatalog interface {
	Resolve(path string) (Field, bool)
}

// CompileOptions adjusts how Compile validates and normalizes rows.
type CompileOptions struct {
	// Catalog validates field paths and supplies their kinds. When nil the
	// rows are trusted as-is and range endpoints normalize as dates.
	Catalog FieldCatalog

	// SkipUnresolved drops rows that fail validation instead of aborting
	// the whole compilation. Used when re-hydrating stored filters whose
	// fields may have disappeared from the schema since they were saved.
	SkipUnresolved bool

	// OnSkip is invoked for every row dropped under SkipUnresolved, so the
	// caller can log what was lost. May be nil.
	OnSkip func(c Condition, err error)
}

// Compile folds an ordered row sequence into a predicate tree.
//
// Rows accumulate into the current AND-group; an "_OR" separator closes the
// group and starts the next one. Separators at the start, the end, or stacked
// back to back are no-ops: a group is only emitted once it holds at least one
// comparison. Deleted rows are skipped entirely. No rows at all yields the
// match-everything identity tree.
func Compile(rows []Condition, opts CompileOptions) (Node, error) {
	var groups []And
	var current And

	for _, row := range rows {
		if row.Delete {
			continue
		}
		if row.IsSeparator() {
			if len(current.Children) > 0 {
				groups = append(groups, current)
				current = And{}
			}
			continue
		}

		cmp, err := normalizeRow(row, opts.Catalog)
		if err != nil {
			if opts.SkipUnresolved {
				if opts.OnSkip != nil {
					opts.OnSkip(row, err)
				}
				continue
			}
			return nil, err
		}
		current.Children = append(current.Children, cmp)
	}
	if len(current.Children) > 0 {
		groups = append(groups, current)
	}

	switch len(groups) {
	case 0:
		return MatchAll(), nil
	case 1:
		return groups[0], nil
	default:
		return Or{Groups: groups}, nil
	}
}

// normalizeRow validates one row and rewrites it into storage form.
func normalizeRow(row Condition, catalog FieldCatalog) (Comparison, error) {
	if row.Field == "" {
		return Comparison{}, &FieldResolutionError{Field: row.Field}
	}

	var field Field
	if catalog != nil {
		var ok bool
		field, ok = catalog.Resolve(row.Field)
		if !ok {
			return Comparison{}, &FieldResolutionError{Field: row.Field}
		}
	}

	op := row.Operator
	if op == "" {
		op = OpEquals
	}
	if _, ok := operatorSet[op]; !ok {
		return Comparison{}, fmt.Errorf("unknown operator %q", op)
	}

	// Value-less operators win over whatever the row carries: a lingering
	// value from a previous operator choice must not leak into storage.
	if !op.needsValue() {
		return valuelessComparison(row.Field, op, row.Negate), nil
	}

	// Range rows take their operand from the explicit endpoints unless the
	// value already holds the combined "start,end" form.
	if op == OpRange {
		text, err := rangeText(row, field.Kind)
		if err != nil {
			return Comparison{}, fmt.Errorf("field %q: %w", row.Field, err)
		}
		return Comparison{
			Key:    row.Field + "__" + string(OpRange),
			Value:  text,
			Negate: row.Negate,
		}, nil
	}

	switch v := row.Value.(type) {
	case nil:
		// A missing value downgrades the comparison to a null check.
		return valuelessComparison(row.Field, OpIsNull, row.Negate), nil
	case bool:
		if v {
			return valuelessComparison(row.Field, OpIsTrue, row.Negate), nil
		}
		return valuelessComparison(row.Field, OpIsFalse, row.Negate), nil
	}

	text, err := valueText(row.Value)
	if err != nil {
		return Comparison{}, fmt.Errorf("field %q: %w", row.Field, err)
	}

	return Comparison{
		Key:    row.Field + "__" + string(op),
		Value:  text,
		Negate: row.Negate,
	}, nil
}

func valuelessComparison(field string, op Operator, negate bool) Comparison {
	switch op {
	case OpIsTrue:
		return Comparison{Key: field, Value: true, Negate: negate}
	case OpIsFalse:
		return Comparison{Key: field, Value: false, Negate: negate}
	default:
		return Comparison{Key: field + "__" + string(OpIsNull), Value: true, Negate: negate}
	}
}

// valueText canonicalizes a scalar into its at-rest text form. Lists join
// with commas, matching how multi-valued operands are stored.
func valueText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case []string:
		return strings.Join(v, ","), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := valueText(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

// rangeText resolves the operand of a range comparison: a pre-combined value
// passes through, otherwise the Unix endpoints are folded into "start,end".
func rangeText(row Condition, kind FieldKind) (string, error) {
	switch v := row.Value.(type) {
	case nil:
	case string:
		if v != "" {
			return v, nil
		}
	default:
		return valueText(row.Value)
	}
	return combineRange(row.ValueFrom, row.ValueTo, kind), nil
}

// combineRange folds the two range endpoints into the canonical "start,end"
// text. Temporal fields (and untyped ones, for compatibility with rows that
// predate typed catalogs) format as UTC calendar dates; numeric fields keep
// the raw endpoint seconds.
func combineRange(from, to int64, kind FieldKind) string {
	switch kind {
	case KindInteger, KindFloat:
		return strconv.FormatInt(from, 10) + "," + strconv.FormatInt(to, 10)
	}
	return formatRangeDate(from) + "," + formatRangeDate(to)
}

func formatRangeDate(seconds int64) string {
	return time.Unix(seconds, 0).UTC().Format("2006-01-02")
}

// fieldSegments splits a field path on its "__" separators.
func fieldSegments(path string) []string {
	return strings.Split(path, "__")
}
