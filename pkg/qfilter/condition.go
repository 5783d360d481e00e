package qfilter

import "strings"

// OrField is the sentinel field name that separates AND-groups in a row
// sequence. A separator row carries no operator or value of its own.
const OrField = "_OR"

// Operator identifies one comparison from the fixed vocabulary. The tokens
// double as wire words: stored keys embed them as "__<operator>" suffixes,
// so they are reserved and never extended per deployment.
type Operator string

const (
	OpEquals     Operator = "iexact"
	OpContains   Operator = "icontains"
	OpIn         Operator = "in"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpStartsWith Operator = "istartswith"
	OpEndsWith   Operator = "iendswith"
	OpRange      Operator = "range"
	OpIsNull     Operator = "isnull"
	OpIsTrue     Operator = "istrue"
	OpIsFalse    Operator = "isfalse"
)

// OperatorChoice pairs an operator token with its human-facing label.
type OperatorChoice struct {
	Operator Operator `json:"operator"`
	Label    string   `json:"label"`
}

var operatorChoices = []OperatorChoice{
	{OpEquals, "Equals"},
	{OpContains, "Contains"},
	{OpIn, "In"},
	{OpGt, "Greater than"},
	{OpGte, "Greater than or equal to"},
	{OpLt, "Less than"},
	{OpLte, "Less than or equal to"},
	{OpStartsWith, "Starts with"},
	{OpEndsWith, "Ends with"},
	{OpRange, "Range"},
	{OpIsNull, "Is NULL"},
	{OpIsTrue, "Is TRUE"},
	{OpIsFalse, "Is FALSE"},
}

var operatorSet = func() map[Operator]struct{} {
	m := make(map[Operator]struct{}, len(operatorChoices))
	for _, c := range operatorChoices {
		m[c.Operator] = struct{}{}
	}
	return m
}()

// Operators returns the vocabulary in display order. The slice is a copy and
// safe to mutate.
func Operators() []OperatorChoice {
	out := make([]OperatorChoice, len(operatorChoices))
	copy(out, operatorChoices)
	return out
}

// ResolveOperator validates a wire token against the vocabulary. An empty
// token resolves to OpEquals, the default comparison.
func ResolveOperator(token string) (Operator, bool) {
	if token == "" {
		return OpEquals, true
	}
	op := Operator(token)
	_, ok := operatorSet[op]
	return op, ok
}

// needsValue reports whether the operator compares against a caller-supplied
// value. The remaining operators (isnull, istrue, isfalse) are complete on
// their own and ignore any value the row carries.
func (op Operator) needsValue() bool {
	switch op {
	case OpIsNull, OpIsTrue, OpIsFalse:
		return false
	}
	return true
}

// Condition is one filter row as users author it: a field path, an operator,
// and the value(s) the operator needs. Rows with Field == OrField act purely
// as group separators. Delete marks a row the editor removed; compilation
// skips it.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	// ValueFrom and ValueTo carry the endpoints of a range comparison as
	// Unix seconds. They are only consulted when Operator is OpRange and
	// Value is not already the combined "start,end" form.
	ValueFrom int64 `json:"value_from,omitempty"`
	ValueTo   int64 `json:"value_to,omitempty"`
	Negate    bool  `json:"negate"`
	Delete    bool  `json:"delete,omitempty"`
}

// IsSeparator reports whether the row is an "_OR" group separator.
func (c Condition) IsSeparator() bool {
	return c.Field == OrField
}

// splitKey recovers (field, operator) from a stored comparison key. Only the
// last "__" segment is considered, and only when it is a reserved operator
// token; otherwise the whole key is the field path and the comparison is a
// bare equality.
func splitKey(key string) (string, Operator) {
	i := strings.LastIndex(key, "__")
	if i <= 0 {
		return key, ""
	}
	if op := Operator(key[i+2:]); op != "" {
		if _, ok := operatorSet[op]; ok {
			return key[:i], op
		}
	}
	return key, ""
}
