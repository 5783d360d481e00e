package catalog

import "sort"

// Registry is the explicit list of entity types the filter editor may
// target. It is assembled once at wiring time; an empty registry means
// every stored schema is filterable.
type Registry struct {
	types []string
	set   map[string]struct{}
}

// NewRegistry builds a registry from the given entity type names. Blank and
// duplicate names are dropped.
func NewRegistry(types ...string) *Registry {
	r := &Registry{set: make(map[string]struct{}, len(types))}
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, dup := r.set[t]; dup {
			continue
		}
		r.set[t] = struct{}{}
		r.types = append(r.types, t)
	}
	sort.Strings(r.types)
	return r
}

// Allowed reports whether the entity type may be filtered. An empty registry
// allows everything.
func (r *Registry) Allowed(entityType string) bool {
	if r == nil || len(r.set) == 0 {
		return true
	}
	_, ok := r.set[entityType]
	return ok
}

// Types returns the registered entity types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.types))
	copy(out, r.types)
	return out
}
