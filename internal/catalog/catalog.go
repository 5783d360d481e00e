package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"

	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/pkg/qfilter"
)

// ErrNotFilterable marks an entity type the registry does not expose to the
// filter editor.
var ErrNotFilterable = errors.New("entity type is not filterable")

// SeparatorLabel is the label advertised for the "_OR" pseudo field.
const SeparatorLabel = "Or (mark an empty row)"

// SchemaSource is the slice of schema persistence the catalog needs.
type SchemaSource interface {
	GetByName(ctx context.Context, name string) (domain.EntitySchema, error)
	List(ctx context.Context) ([]domain.EntitySchema, error)
}

// Catalog answers "which fields can this entity type be filtered on, and
// what are they typed as". Views are snapshots built from the stored schema
// and cached for a TTL, so editors and compilers see a consistent field set
// without hitting the database per keystroke.
type Catalog struct {
	schemas  SchemaSource
	registry *Registry
	cache    *gocache.Cache
}

// New builds a catalog over the given schema source. A nil registry exposes
// every stored schema.
func New(schemas SchemaSource, registry *Registry, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		schemas:  schemas,
		registry: registry,
		cache:    gocache.New(ttl, 2*ttl),
	}
}

// Models lists the entity types the filter editor may target, sorted by
// name. With a populated registry only registered types appear; otherwise
// every stored schema is offered.
func (c *Catalog) Models(ctx context.Context) ([]string, error) {
	if c.registry != nil && len(c.registry.types) > 0 {
		return c.registry.Types(), nil
	}

	schemas, err := c.schemas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names, nil
}

// View returns the resolution snapshot for one entity type.
func (c *Catalog) View(ctx context.Context, entityType string) (*View, error) {
	if c.registry != nil && !c.registry.Allowed(entityType) {
		return nil, fmt.Errorf("%q: %w", entityType, ErrNotFilterable)
	}

	if cached, ok := c.cache.Get(entityType); ok {
		return cached.(*View), nil
	}

	view, err := c.build(ctx, entityType)
	if err != nil {
		return nil, err
	}
	c.cache.Set(entityType, view, gocache.DefaultExpiration)
	return view, nil
}

// Invalidate drops the cached view for an entity type after a schema change.
func (c *Catalog) Invalidate(entityType string) {
	c.cache.Delete(entityType)
}

func (c *Catalog) build(ctx context.Context, entityType string) (*View, error) {
	schema, err := c.schemas.GetByName(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %q: %w", entityType, err)
	}

	view := &View{
		entityType: entityType,
		byPath:     make(map[string]qfilter.Field),
		jsonRoots:  make(map[string]struct{}),
	}

	for _, field := range schema.Fields {
		view.add(qfilter.Field{
			Path:  field.Name,
			Label: labelFor(field.Name),
			Kind:  kindOf(field.Type),
		})
		if field.Type == domain.FieldTypeJSON {
			view.jsonRoots[field.Name] = struct{}{}
		}

		// Reference fields pull the referenced schema's fields in one hop
		// deep, the way related columns show up in the editor.
		if field.Type == domain.FieldTypeEntityReference && field.ReferenceEntityType != "" {
			related, err := c.schemas.GetByName(ctx, field.ReferenceEntityType)
			if err != nil {
				// A dangling reference hides the hop, it does not break
				// the whole catalog.
				continue
			}
			for _, sub := range related.Fields {
				if sub.Type == domain.FieldTypeEntityReference {
					continue
				}
				view.add(qfilter.Field{
					Path:  field.Name + "__" + sub.Name,
					Label: labelFor(field.Name) + " | " + labelFor(sub.Name),
					Kind:  kindOf(sub.Type),
				})
			}
		}
	}

	sort.Slice(view.fields, func(i, j int) bool {
		return strings.ToLower(view.fields[i].Label) < strings.ToLower(view.fields[j].Label)
	})
	return view, nil
}

// View is an immutable field snapshot for one entity type. It implements
// qfilter.FieldCatalog.
type View struct {
	entityType string
	fields     []qfilter.Field
	byPath     map[string]qfilter.Field
	jsonRoots  map[string]struct{}
}

func (v *View) add(f qfilter.Field) {
	if _, exists := v.byPath[f.Path]; exists {
		return
	}
	v.byPath[f.Path] = f
	v.fields = append(v.fields, f)
}

// EntityType names the type this view was built for.
func (v *View) EntityType() string {
	return v.entityType
}

// Resolve implements qfilter.FieldCatalog. Paths under a JSON-typed field
// resolve to untyped text, since the schema does not describe their shape.
func (v *View) Resolve(path string) (qfilter.Field, bool) {
	if f, ok := v.byPath[path]; ok {
		return f, true
	}

	root, rest, ok := strings.Cut(path, "__")
	if !ok || rest == "" {
		return qfilter.Field{}, false
	}
	if _, ok := v.jsonRoots[root]; !ok {
		return qfilter.Field{}, false
	}
	return qfilter.Field{Path: path, Label: labelFor(path), Kind: qfilter.KindText}, true
}

// Fields lists the choices for the editor's field dropdown: the resolvable
// fields sorted by label, with the "_OR" separator appended last.
func (v *View) Fields() []qfilter.Field {
	out := make([]qfilter.Field, len(v.fields), len(v.fields)+1)
	copy(out, v.fields)
	return append(out, qfilter.Field{Path: qfilter.OrField, Label: SeparatorLabel})
}

func kindOf(t domain.FieldType) qfilter.FieldKind {
	switch t {
	case domain.FieldTypeInteger:
		return qfilter.KindInteger
	case domain.FieldTypeFloat:
		return qfilter.KindFloat
	case domain.FieldTypeBoolean:
		return qfilter.KindBoolean
	case domain.FieldTypeDate:
		return qfilter.KindDate
	case domain.FieldTypeTimestamp:
		return qfilter.KindTimestamp
	case domain.FieldTypeJSON:
		return qfilter.KindJSON
	default:
		return qfilter.KindText
	}
}

// labelFor renders a field name for display: underscores become spaces and
// the first rune is capitalized, so "created_at" reads "Created at".
func labelFor(name string) string {
	label := strings.ReplaceAll(name, "__", " ")
	label = strings.ReplaceAll(label, "_", " ")
	runes := []rune(label)
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}
