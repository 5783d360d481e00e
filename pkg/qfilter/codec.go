package qfilter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMaxEncodedLength is the storage budget for encoded tokens. It
// matches the width of the column the tokens persist into.
const DefaultMaxEncodedLength = 2048

const (
	connectorAnd = "AND"
	connectorOr  = "OR"
)

// Codec serializes predicate trees to opaque base64 tokens and back. The
// zero value is ready to use with the default budget.
type Codec struct {
	// MaxEncodedLength bounds the emitted token length in bytes. Zero
	// means DefaultMaxEncodedLength.
	MaxEncodedLength int
}

func (c Codec) budget() int {
	if c.MaxEncodedLength > 0 {
		return c.MaxEncodedLength
	}
	return DefaultMaxEncodedLength
}

// encNode and encLeaf are the wire shapes. Struct-driven marshaling keeps
// the field order fixed, so equal trees encode to byte-identical tokens.
type encNode struct {
	Connector string            `json:"connector"`
	Negated   bool              `json:"negated"`
	Children  []json.RawMessage `json:"children"`
}

type encLeaf struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Negate bool   `json:"negate"`
}

// Encode serializes the tree and fails with a BudgetError if the resulting
// token would not fit the storage budget. Nothing is emitted in that case.
func (c Codec) Encode(tree Node) (string, error) {
	groups := make([]And, 0, len(groupsOf(tree)))
	for _, g := range groupsOf(tree) {
		if len(g.Children) > 0 {
			groups = append(groups, g)
		}
	}

	var root encNode
	switch len(groups) {
	case 0:
		root = encNode{Connector: connectorAnd, Children: []json.RawMessage{}}
	case 1:
		node, err := encodeGroup(groups[0])
		if err != nil {
			return "", err
		}
		root = node
	default:
		root = encNode{Connector: connectorOr, Children: make([]json.RawMessage, 0, len(groups))}
		for _, g := range groups {
			node, err := encodeGroup(g)
			if err != nil {
				return "", err
			}
			raw, err := json.Marshal(node)
			if err != nil {
				return "", fmt.Errorf("marshal group: %w", err)
			}
			root.Children = append(root.Children, raw)
		}
	}

	payload, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("marshal tree: %w", err)
	}

	token := base64.StdEncoding.EncodeToString(payload)
	if len(token) > c.budget() {
		return "", &BudgetError{Size: len(token), Budget: c.budget()}
	}
	return token, nil
}

func encodeGroup(g And) (encNode, error) {
	node := encNode{Connector: connectorAnd, Children: make([]json.RawMessage, 0, len(g.Children))}
	for _, cmp := range g.Children {
		raw, err := json.Marshal(encLeaf{Key: cmp.Key, Value: cmp.Value, Negate: cmp.Negate})
		if err != nil {
			return encNode{}, fmt.Errorf("marshal comparison %q: %w", cmp.Key, err)
		}
		node.Children = append(node.Children, raw)
	}
	return node, nil
}

// Decode parses a token back into a predicate tree. An empty token yields
// the identity tree; anything else that does not decode to a shape this
// package writes fails with a CorruptTokenError.
func (c Codec) Decode(token string) (Node, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return MatchAll(), nil
	}

	payload, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, &CorruptTokenError{Reason: "invalid base64", Err: err}
	}

	var root encNode
	if err := json.Unmarshal(payload, &root); err != nil {
		return nil, &CorruptTokenError{Reason: "invalid JSON payload", Err: err}
	}
	if root.Negated {
		return nil, &CorruptTokenError{Reason: "negated groups are not supported"}
	}

	switch root.Connector {
	case connectorAnd:
		group, err := decodeGroup(root.Children)
		if err != nil {
			return nil, err
		}
		return group, nil
	case connectorOr:
		or := Or{Groups: make([]And, 0, len(root.Children))}
		for _, raw := range root.Children {
			group, err := decodeChildGroup(raw)
			if err != nil {
				return nil, err
			}
			if len(group.Children) == 0 {
				continue
			}
			or.Groups = append(or.Groups, group)
		}
		if len(or.Groups) == 1 {
			return or.Groups[0], nil
		}
		if len(or.Groups) == 0 {
			return MatchAll(), nil
		}
		return or, nil
	default:
		return nil, &CorruptTokenError{Reason: fmt.Sprintf("unknown connector %q", root.Connector)}
	}
}

// DecodeRows is the raw decoding mode: it reverses compilation, returning
// the flat row list with "_OR" separators restored between groups. The rows
// are ready to seed an editing session and to feed back through Compile.
func (c Codec) DecodeRows(token string) ([]Condition, error) {
	tree, err := c.Decode(token)
	if err != nil {
		return nil, err
	}
	return Rows(tree), nil
}

// decodeChildGroup handles one child of an OR root: either a nested AND node
// or, from older producers, a lone comparison standing in for a group of one.
func decodeChildGroup(raw json.RawMessage) (And, error) {
	kind, err := probeChild(raw)
	if err != nil {
		return And{}, err
	}
	if kind == childLeaf {
		cmp, err := decodeLeaf(raw)
		if err != nil {
			return And{}, err
		}
		return And{Children: []Comparison{cmp}}, nil
	}

	var node encNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return And{}, &CorruptTokenError{Reason: "invalid group node", Err: err}
	}
	if node.Connector != connectorAnd {
		return And{}, &CorruptTokenError{Reason: fmt.Sprintf("nested %q group", node.Connector)}
	}
	if node.Negated {
		return And{}, &CorruptTokenError{Reason: "negated groups are not supported"}
	}
	return decodeGroup(node.Children)
}

func decodeGroup(children []json.RawMessage) (And, error) {
	group := And{Children: make([]Comparison, 0, len(children))}
	for _, raw := range children {
		kind, err := probeChild(raw)
		if err != nil {
			return And{}, err
		}
		if kind != childLeaf {
			// Groups nest exactly one level below the root.
			return And{}, &CorruptTokenError{Reason: "comparison expected inside group"}
		}
		cmp, err := decodeLeaf(raw)
		if err != nil {
			return And{}, err
		}
		group.Children = append(group.Children, cmp)
	}
	return group, nil
}

type childKind int

const (
	childLeaf childKind = iota
	childNode
)

func probeChild(raw json.RawMessage) (childKind, error) {
	var probe struct {
		Connector *string `json:"connector"`
		Key       *string `json:"key"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, &CorruptTokenError{Reason: "invalid tree element", Err: err}
	}
	switch {
	case probe.Connector != nil:
		return childNode, nil
	case probe.Key != nil:
		return childLeaf, nil
	default:
		return 0, &CorruptTokenError{Reason: "element is neither group nor comparison"}
	}
}

func decodeLeaf(raw json.RawMessage) (Comparison, error) {
	var leaf encLeaf
	if err := json.Unmarshal(raw, &leaf); err != nil {
		return Comparison{}, &CorruptTokenError{Reason: "invalid comparison", Err: err}
	}
	if leaf.Key == "" {
		return Comparison{}, &CorruptTokenError{Reason: "comparison without a key"}
	}
	if err := checkLeafValue(leaf.Value); err != nil {
		return Comparison{}, err
	}
	return Comparison{Key: leaf.Key, Value: leaf.Value, Negate: leaf.Negate}, nil
}

// checkLeafValue restricts stored operands to scalars, plus flat lists from
// producers that stored multi-valued operands unjoined.
func checkLeafValue(value any) error {
	switch v := value.(type) {
	case nil, string, bool, float64:
		return nil
	case []any:
		for _, item := range v {
			switch item.(type) {
			case string, float64:
			default:
				return &CorruptTokenError{Reason: fmt.Sprintf("unsupported list operand element %T", item)}
			}
		}
		return nil
	default:
		return &CorruptTokenError{Reason: fmt.Sprintf("unsupported operand type %T", value)}
	}
}

// Rows flattens a tree into the ordered row list that compiles back to it.
// Group boundaries become "_OR" separator rows.
func Rows(tree Node) []Condition {
	groups := groupsOf(tree)
	if len(groups) == 0 {
		return nil
	}

	var rows []Condition
	for i, g := range groups {
		if i > 0 {
			rows = append(rows, Condition{Field: OrField, Operator: OpEquals})
		}
		for _, cmp := range g.Children {
			rows = append(rows, rowFromComparison(cmp))
		}
	}
	return rows
}

// rowFromComparison undoes storage normalization for one comparison. The
// operator is recovered from the key suffix when present; bare keys carry
// their operator in the value shape (booleans) or default to equality.
func rowFromComparison(cmp Comparison) Condition {
	field, op := splitKey(cmp.Key)
	row := Condition{Field: field, Negate: cmp.Negate}

	switch op {
	case OpIsNull:
		// The stored operand records polarity: isnull=false means the
		// field must be present, which is the negated null check.
		row.Operator = OpIsNull
		if v, ok := cmp.Value.(bool); ok && !v {
			row.Negate = !cmp.Negate
		}
	case "":
		switch v := cmp.Value.(type) {
		case bool:
			if v {
				row.Operator = OpIsTrue
			} else {
				row.Operator = OpIsFalse
			}
		case nil:
			row.Operator = OpIsNull
		default:
			row.Operator = OpEquals
			row.Value = cmp.Value
		}
	default:
		row.Operator = op
		row.Value = cmp.Value
	}
	return row
}
