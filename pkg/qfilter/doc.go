// Package qfilter compiles user-entered filter conditions into a boolean
// predicate tree and serializes that tree into a bounded, storable text token.
//
// The package is the core of the advanced-filters subsystem: everything else
// (catalog, persistence, HTTP surface) feeds conditions in or renders trees
// back out. It is pure (no I/O, no logging, no shared state), so every
// compile, encode, and decode call is independent given its inputs.
//
// # Conditions and trees
//
// A Condition is one "field / operator / value" row, optionally negated. The
// sentinel field "_OR" separates AND-groups. Compile folds an ordered row
// sequence into a predicate tree: an OR of AND-groups, each group a
// conjunction of atomic comparisons.
//
//	rows := []qfilter.Condition{
//	    {Field: "status", Operator: qfilter.OpEquals, Value: "open"},
//	    {Field: qfilter.OrField},
//	    {Field: "status", Operator: qfilter.OpEquals, Value: "pending"},
//	}
//	tree, err := qfilter.Compile(rows, qfilter.CompileOptions{})
//
// An empty row sequence (or one containing only separators) compiles to the
// match-everything identity tree, never an error.
//
// # Tokens
//
// Codec turns a tree into an opaque base64 token and back. Encoding is
// deterministic and enforces a byte budget so an oversized filter fails
// before anything is persisted:
//
//	codec := qfilter.Codec{}
//	token, err := codec.Encode(tree)
//	...
//	tree, err = codec.Decode(token)       // apply mode
//	rows, err = codec.DecodeRows(token)   // raw mode, for re-editing
//
// DecodeRows reverses compilation: it yields the flat row list the compiler
// consumes, with "_OR" marker rows restored at group boundaries. Stored keys
// embed their operator as a "__" suffix; the fixed operator vocabulary is
// treated as reserved words when splitting the suffix back off, so a field
// segment can never be mistaken for an operator.
//
// # Lowering
//
// SQLEncoder lowers a tree onto a parameterized Postgres WHERE fragment over
// a JSONB properties column. Other engines can walk the tree themselves; its
// shape is fixed at one level of OR over AND-groups of comparisons.
package qfilter
