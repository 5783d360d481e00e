package filters

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skadler/advfilters/internal/auth"
	"github.com/skadler/advfilters/internal/catalog"
	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/repository"
	"github.com/skadler/advfilters/pkg/qfilter"
)

func TestServiceSaveCompilesAndStores(t *testing.T) {
	service, filterRepo, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	filter, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "  Active pumps  ",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
			{Field: qfilter.OrField},
			{Field: "priority", Operator: qfilter.OpGt, Value: float64(3)},
		},
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	if filter.Title != "Active pumps" {
		t.Fatalf("expected trimmed title, got %q", filter.Title)
	}
	if filter.CreatedBy != alice.UserID {
		t.Fatalf("expected creator %s, got %s", alice.UserID, filter.CreatedBy)
	}
	if filter.EncodedQuery == "" {
		t.Fatalf("expected an encoded query token")
	}
	if _, ok := filterRepo.filters[filter.ID]; !ok {
		t.Fatalf("expected filter to be persisted")
	}

	tree, err := qfilter.Codec{}.Decode(filter.EncodedQuery)
	if err != nil {
		t.Fatalf("stored token does not decode: %v", err)
	}
	or, ok := tree.(qfilter.Or)
	if !ok {
		t.Fatalf("expected two groups, got %T", tree)
	}
	if len(or.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(or.Groups))
	}
}

func TestServiceSaveRejectsUnknownField(t *testing.T) {
	service, filterRepo, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	_, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Bad",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "serial_number", Operator: qfilter.OpEquals, Value: "X1"},
		},
	})
	var fieldErr *qfilter.FieldResolutionError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected field resolution error, got %v", err)
	}
	if len(filterRepo.filters) != 0 {
		t.Fatalf("expected nothing to be persisted")
	}
}

func TestServiceSaveRejectsEmptyDefinition(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	_, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Empty",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: qfilter.OrField},
			{Field: "name", Operator: qfilter.OpEquals, Value: "x", Delete: true},
		},
	})
	if err == nil || err.Error() != "filter needs at least one condition" {
		t.Fatalf("expected empty definition to be rejected, got %v", err)
	}
}

func TestServiceSaveEnforcesBudget(t *testing.T) {
	service, _, _, _ := newTestService(t, WithMaxEncodedLength(32))
	alice := auth.Identity{UserID: uuid.New()}

	_, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Too big",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
		},
	})
	var budgetErr *qfilter.BudgetError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if budgetErr.Budget != 32 {
		t.Fatalf("expected budget 32, got %d", budgetErr.Budget)
	}
}

func TestServiceSaveSharesWithUsersAndGroups(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}
	bob := auth.Identity{UserID: uuid.New()}
	carol := auth.Identity{UserID: uuid.New(), Groups: []string{"ops"}}

	filter, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Shared",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "active", Operator: qfilter.OpIsTrue},
		},
		Users:  []uuid.UUID{bob.UserID},
		Groups: []string{"ops"},
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	if !filter.IsVisibleTo(alice.UserID, nil) {
		t.Fatalf("expected creator to keep visibility")
	}
	if !filter.IsVisibleTo(bob.UserID, nil) {
		t.Fatalf("expected shared user to see the filter")
	}
	if !filter.IsVisibleTo(carol.UserID, carol.NormalizedGroups()) {
		t.Fatalf("expected group member to see the filter")
	}
}

func TestServiceGetHidesForeignFilters(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}
	mallory := auth.Identity{UserID: uuid.New()}

	filter, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Private",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "active", Operator: qfilter.OpIsTrue},
		},
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	if _, err := service.Get(context.Background(), alice, filter.ID); err != nil {
		t.Fatalf("expected owner to load the filter, got %v", err)
	}
	_, err = service.Get(context.Background(), mallory, filter.ID)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected foreign filter to read as not found, got %v", err)
	}
}

func TestServiceListReturnsVisibleFilters(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}
	bob := auth.Identity{UserID: uuid.New()}

	mustSave(t, service, alice, "Mine", nil, nil)
	mustSave(t, service, alice, "Also mine", nil, nil)
	mustSave(t, service, bob, "Bobs", nil, nil)

	filters, err := service.List(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if len(filters) != 2 {
		t.Fatalf("expected 2 visible filters, got %d", len(filters))
	}
}

func TestServiceListScopedToEntityType(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	mustSave(t, service, alice, "Equipment filter", nil, nil)
	if _, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Site filter",
		EntityType: "site",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "north"},
		},
	}); err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	filters, err := service.List(context.Background(), alice, "site")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if len(filters) != 1 || filters[0].Title != "Site filter" {
		t.Fatalf("expected only the site filter, got %v", filters)
	}
}

func TestServiceRowsRoundTrip(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	filter, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Round trip",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
			{Field: qfilter.OrField},
			{Field: "priority", Operator: qfilter.OpGt, Value: float64(3)},
		},
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	rows, err := service.Rows(context.Background(), alice, filter.ID)
	if err != nil {
		t.Fatalf("rows returned error: %v", err)
	}
	want := []qfilter.Condition{
		{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
		{Field: qfilter.OrField, Operator: qfilter.OpEquals},
		{Field: "priority", Operator: qfilter.OpGt, Value: "3"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("unexpected rows:\n got %+v\nwant %+v", rows, want)
	}
}

func TestServiceRowsDropsStaleFields(t *testing.T) {
	service, _, _, source := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	filter, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Stale",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
			{Field: qfilter.OrField},
			{Field: "priority", Operator: qfilter.OpGte, Value: float64(5)},
		},
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	// The schema loses the priority field after the filter was saved.
	source.schemas["equipment"] = source.schemas["equipment"].WithoutField("priority")
	service.catalog.Invalidate("equipment")

	rows, err := service.Rows(context.Background(), alice, filter.ID)
	if err != nil {
		t.Fatalf("rows returned error: %v", err)
	}
	want := []qfilter.Condition{
		{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("expected stale condition to be dropped:\n got %+v\nwant %+v", rows, want)
	}
}

func TestServiceApplyUsesStoredPredicate(t *testing.T) {
	service, _, entityRepo, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	entityRepo.entities = []domain.Entity{domain.NewEntity("equipment", map[string]any{"name": "Pump 7"})}
	entityRepo.total = 42

	filter, err := service.Save(context.Background(), alice, SaveRequest{
		Title:      "Pumps",
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
		},
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}

	page, err := service.Apply(context.Background(), alice, ApplyRequest{FilterID: filter.ID})
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}

	if entityRepo.lastQuery.EntityType != "equipment" {
		t.Fatalf("expected entity type from filter, got %q", entityRepo.lastQuery.EntityType)
	}
	if qfilter.IsMatchAll(entityRepo.lastQuery.Predicate) {
		t.Fatalf("expected the stored predicate to restrict the listing")
	}
	if entityRepo.lastQuery.Limit != 100 {
		t.Fatalf("expected default page size 100, got %d", entityRepo.lastQuery.Limit)
	}
	if page.TotalCount != 42 {
		t.Fatalf("expected total 42, got %d", page.TotalCount)
	}
	if page.Filter == nil || page.Filter.ID != filter.ID {
		t.Fatalf("expected the applied filter on the page")
	}
}

func TestServiceApplyWithoutFilterListsUnfiltered(t *testing.T) {
	service, _, entityRepo, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	_, err := service.Apply(context.Background(), alice, ApplyRequest{EntityType: "equipment", Limit: 5000})
	if err != nil {
		t.Fatalf("apply returned error: %v", err)
	}
	if !qfilter.IsMatchAll(entityRepo.lastQuery.Predicate) {
		t.Fatalf("expected an unfiltered listing")
	}
	if entityRepo.lastQuery.Limit != maxPageSize {
		t.Fatalf("expected limit capped at %d, got %d", maxPageSize, entityRepo.lastQuery.Limit)
	}
}

func TestServiceApplyRejectsMismatchedEntityType(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	filter := mustSave(t, service, alice, "Pumps", nil, nil)
	_, err := service.Apply(context.Background(), alice, ApplyRequest{FilterID: filter.ID, EntityType: "site"})
	if err == nil {
		t.Fatalf("expected mismatched entity type to be rejected")
	}
}

func TestServiceApplyDegradesOnCorruptToken(t *testing.T) {
	service, filterRepo, entityRepo, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	entityRepo.entities = []domain.Entity{domain.NewEntity("equipment", map[string]any{"name": "Pump 7"})}
	entityRepo.total = 42

	broken := domain.NewStoredFilter("Broken", "equipment", "not-base64!!!", alice.UserID)
	filterRepo.filters[broken.ID] = broken

	page, err := service.Apply(context.Background(), alice, ApplyRequest{FilterID: broken.ID})
	if err != nil {
		t.Fatalf("expected corrupt token to degrade, not fail: %v", err)
	}
	if !qfilter.IsMatchAll(entityRepo.lastQuery.Predicate) {
		t.Fatalf("expected the degraded page to list unfiltered")
	}
	if !page.Degraded {
		t.Fatalf("expected the page to be flagged as degraded")
	}
	if page.Filter == nil || page.Filter.ID != broken.ID {
		t.Fatalf("expected the broken filter to stay attached to the page")
	}
	if page.TotalCount != 42 {
		t.Fatalf("expected the unfiltered total, got %d", page.TotalCount)
	}
}

func TestServiceUpdateReplacesDefinition(t *testing.T) {
	service, filterRepo, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	filter := mustSave(t, service, alice, "Old title", nil, nil)

	updated, err := service.Update(context.Background(), alice, filter.ID, SaveRequest{
		Title: "New title",
		Rows: []qfilter.Condition{
			{Field: "active", Operator: qfilter.OpIsFalse},
		},
	})
	if err != nil {
		t.Fatalf("update returned error: %v", err)
	}
	if updated.Title != "New title" {
		t.Fatalf("expected title to change, got %q", updated.Title)
	}
	if updated.EncodedQuery == filter.EncodedQuery {
		t.Fatalf("expected the stored token to change")
	}
	if stored := filterRepo.filters[filter.ID]; stored.Title != "New title" {
		t.Fatalf("expected the update to be persisted")
	}

	rows, err := service.Rows(context.Background(), alice, filter.ID)
	if err != nil {
		t.Fatalf("rows returned error: %v", err)
	}
	want := []qfilter.Condition{{Field: "active", Operator: qfilter.OpIsFalse}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("unexpected rows after update:\n got %+v\nwant %+v", rows, want)
	}
}

func TestServiceUpdateKeepsEntityTypePinned(t *testing.T) {
	service, _, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}

	filter := mustSave(t, service, alice, "Pinned", nil, nil)
	_, err := service.Update(context.Background(), alice, filter.ID, SaveRequest{
		Title:      "Pinned",
		EntityType: "site",
		Rows: []qfilter.Condition{
			{Field: "active", Operator: qfilter.OpIsTrue},
		},
	})
	if err == nil {
		t.Fatalf("expected entity type change to be rejected")
	}
}

func TestServiceDeleteRequiresVisibility(t *testing.T) {
	service, filterRepo, _, _ := newTestService(t)
	alice := auth.Identity{UserID: uuid.New()}
	mallory := auth.Identity{UserID: uuid.New()}

	filter := mustSave(t, service, alice, "Keep out", nil, nil)

	if err := service.Delete(context.Background(), mallory, filter.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected delete by stranger to fail, got %v", err)
	}
	if _, ok := filterRepo.filters[filter.ID]; !ok {
		t.Fatalf("expected the filter to survive")
	}

	if err := service.Delete(context.Background(), alice, filter.ID); err != nil {
		t.Fatalf("expected owner delete to succeed, got %v", err)
	}
	if _, ok := filterRepo.filters[filter.ID]; ok {
		t.Fatalf("expected the filter to be gone")
	}
}

func TestServiceEditorListsFieldsAndOperators(t *testing.T) {
	service, _, _, _ := newTestService(t)

	editor, err := service.Editor(context.Background(), "equipment")
	if err != nil {
		t.Fatalf("editor returned error: %v", err)
	}
	if editor.EntityType != "equipment" {
		t.Fatalf("unexpected entity type %q", editor.EntityType)
	}
	if len(editor.Fields) == 0 || editor.Fields[len(editor.Fields)-1].Path != qfilter.OrField {
		t.Fatalf("expected the separator pseudo field last, got %+v", editor.Fields)
	}
	if len(editor.Operators) != 13 {
		t.Fatalf("expected 13 operators, got %d", len(editor.Operators))
	}
	if editor.Separator != qfilter.OrField {
		t.Fatalf("unexpected separator %q", editor.Separator)
	}
}

func mustSave(t *testing.T, service *Service, identity auth.Identity, title string, users []uuid.UUID, groups []string) domain.StoredFilter {
	t.Helper()
	filter, err := service.Save(context.Background(), identity, SaveRequest{
		Title:      title,
		EntityType: "equipment",
		Rows: []qfilter.Condition{
			{Field: "name", Operator: qfilter.OpContains, Value: "pump"},
		},
		Users:  users,
		Groups: groups,
	})
	if err != nil {
		t.Fatalf("save returned error: %v", err)
	}
	return filter
}

func newTestService(t *testing.T, opts ...Option) (*Service, *stubFilterRepo, *stubEntityRepo, *stubSchemaSource) {
	t.Helper()
	source := &stubSchemaSource{schemas: map[string]domain.EntitySchema{
		"equipment": domain.NewEntitySchema("equipment", "Plant equipment", []domain.FieldDefinition{
			{Name: "name", Type: domain.FieldTypeString, Required: true},
			{Name: "priority", Type: domain.FieldTypeInteger},
			{Name: "active", Type: domain.FieldTypeBoolean},
		}),
		"site": domain.NewEntitySchema("site", "Sites", []domain.FieldDefinition{
			{Name: "name", Type: domain.FieldTypeString, Required: true},
		}),
	}}
	filterRepo := newStubFilterRepo()
	entityRepo := &stubEntityRepo{}
	service := NewService(filterRepo, entityRepo, catalog.New(source, nil, time.Minute), opts...)
	return service, filterRepo, entityRepo, source
}

type stubSchemaSource struct {
	schemas map[string]domain.EntitySchema
}

func (s *stubSchemaSource) GetByName(ctx context.Context, name string) (domain.EntitySchema, error) {
	schema, ok := s.schemas[name]
	if !ok {
		return domain.EntitySchema{}, fmt.Errorf("schema %q: %w", name, repository.ErrNotFound)
	}
	return schema, nil
}

func (s *stubSchemaSource) List(ctx context.Context) ([]domain.EntitySchema, error) {
	out := make([]domain.EntitySchema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		out = append(out, schema)
	}
	return out, nil
}

type stubFilterRepo struct {
	filters map[uuid.UUID]domain.StoredFilter
}

func newStubFilterRepo() *stubFilterRepo {
	return &stubFilterRepo{filters: make(map[uuid.UUID]domain.StoredFilter)}
}

func (s *stubFilterRepo) Create(ctx context.Context, filter domain.StoredFilter) (domain.StoredFilter, error) {
	s.filters[filter.ID] = filter
	return filter, nil
}

func (s *stubFilterRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.StoredFilter, error) {
	filter, ok := s.filters[id]
	if !ok {
		return domain.StoredFilter{}, fmt.Errorf("filter %s: %w", id, repository.ErrNotFound)
	}
	return filter, nil
}

func (s *stubFilterRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.StoredFilter, error) {
	out := make([]domain.StoredFilter, 0, len(ids))
	for _, id := range ids {
		if filter, ok := s.filters[id]; ok {
			out = append(out, filter)
		}
	}
	return out, nil
}

func (s *stubFilterRepo) ListVisible(ctx context.Context, userID uuid.UUID, groups []string) ([]domain.StoredFilter, error) {
	out := make([]domain.StoredFilter, 0, len(s.filters))
	for _, filter := range s.filters {
		if filter.IsVisibleTo(userID, groups) {
			out = append(out, filter)
		}
	}
	return out, nil
}

func (s *stubFilterRepo) ListByEntityType(ctx context.Context, entityType string, userID uuid.UUID, groups []string) ([]domain.StoredFilter, error) {
	out := make([]domain.StoredFilter, 0, len(s.filters))
	for _, filter := range s.filters {
		if filter.EntityType == entityType && filter.IsVisibleTo(userID, groups) {
			out = append(out, filter)
		}
	}
	return out, nil
}

func (s *stubFilterRepo) Update(ctx context.Context, filter domain.StoredFilter) (domain.StoredFilter, error) {
	if _, ok := s.filters[filter.ID]; !ok {
		return domain.StoredFilter{}, fmt.Errorf("filter %s: %w", filter.ID, repository.ErrNotFound)
	}
	s.filters[filter.ID] = filter
	return filter, nil
}

func (s *stubFilterRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.filters[id]; !ok {
		return fmt.Errorf("filter %s: %w", id, repository.ErrNotFound)
	}
	delete(s.filters, id)
	return nil
}

type stubEntityRepo struct {
	entities  []domain.Entity
	total     int
	lastQuery repository.EntityQuery
}

func (s *stubEntityRepo) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	return domain.Entity{}, errors.New("not implemented")
}

func (s *stubEntityRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	return domain.Entity{}, errors.New("not implemented")
}

func (s *stubEntityRepo) List(ctx context.Context, query repository.EntityQuery) ([]domain.Entity, int, error) {
	s.lastQuery = query
	return s.entities, s.total, nil
}

func (s *stubEntityRepo) ListAll(ctx context.Context, query repository.EntityQuery, fn func(domain.Entity) error) error {
	s.lastQuery = query
	for _, entity := range s.entities {
		if err := fn(entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubEntityRepo) Count(ctx context.Context, entityType string) (int64, error) {
	return int64(s.total), nil
}

func (s *stubEntityRepo) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	return domain.Entity{}, errors.New("not implemented")
}

func (s *stubEntityRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return errors.New("not implemented")
}

var _ repository.FilterRepository = (*stubFilterRepo)(nil)
var _ repository.EntityRepository = (*stubEntityRepo)(nil)
var _ catalog.SchemaSource = (*stubSchemaSource)(nil)
