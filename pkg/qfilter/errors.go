package qfilter

import "fmt"

// FieldResolutionError reports a condition row whose field path is not known
// to the catalog the compiler was given.
type FieldResolutionError struct {
	Field string
}

func (e *FieldResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve field %q", e.Field)
}

// CorruptTokenError reports a stored token that cannot be decoded back into
// a predicate tree: broken base64, malformed JSON, or a tree shape this
// package never writes.
type CorruptTokenError struct {
	Reason string
	Err    error
}

func (e *CorruptTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt filter token: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt filter token: %s", e.Reason)
}

func (e *CorruptTokenError) Unwrap() error {
	return e.Err
}

// BudgetError reports an encoded token that exceeds the storage budget. It is
// raised at encode time, before anything is persisted.
type BudgetError struct {
	Size   int
	Budget int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("encoded filter is %d bytes, budget is %d", e.Size, e.Budget)
}
