package qfilter

// Node is one variant of the compiled predicate tree. The shape is fixed at
// one level: an Or holds And groups, an And holds Comparisons. Implementations
// live in this package only.
type Node interface {
	isNode()
}

// Comparison is one atomic field test in storage form: the operator is folded
// into Key as a "__<operator>" suffix and Value is the normalized operand.
// A bare Key (no recognized suffix) means plain equality.
type Comparison struct {
	Key    string
	Value  any
	Negate bool
}

// And is a conjunction of comparisons: one filter block between "_OR"
// separators. An empty And matches everything.
type And struct {
	Children []Comparison
}

// Or is a disjunction of AND-groups, the top-level tree shape when a filter
// has more than one block.
type Or struct {
	Groups []And
}

func (Comparison) isNode() {}
func (And) isNode()        {}
func (Or) isNode()         {}

// MatchAll returns the identity tree: the predicate that admits every row.
// Compiling an empty or separator-only row sequence yields it.
func MatchAll() Node {
	return And{}
}

// IsMatchAll reports whether the tree constrains nothing.
func IsMatchAll(n Node) bool {
	switch t := n.(type) {
	case nil:
		return true
	case And:
		return len(t.Children) == 0
	case Or:
		return len(t.Groups) == 0
	}
	return false
}

// groupsOf views any tree uniformly as its list of AND-groups.
func groupsOf(n Node) []And {
	switch t := n.(type) {
	case nil:
		return nil
	case Comparison:
		return []And{{Children: []Comparison{t}}}
	case And:
		if len(t.Children) == 0 {
			return nil
		}
		return []And{t}
	case Or:
		return t.Groups
	}
	return nil
}
