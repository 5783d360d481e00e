package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewStoredFilterSharesWithCreator(t *testing.T) {
	creator := uuid.New()
	filter := NewStoredFilter("Open pumps", "equipment", "token", creator)

	if len(filter.Users) != 1 || filter.Users[0] != creator {
		t.Fatalf("expected creator in share list, got %v", filter.Users)
	}
	if !filter.IsVisibleTo(creator, nil) {
		t.Errorf("creator cannot see their own filter")
	}
}

func TestStoredFilterVisibility(t *testing.T) {
	creator := uuid.New()
	colleague := uuid.New()
	stranger := uuid.New()

	filter := NewStoredFilter("Shared", "equipment", "token", creator).
		WithSharing([]uuid.UUID{colleague}, []string{"maintenance"})

	if !filter.IsVisibleTo(colleague, nil) {
		t.Errorf("directly shared user cannot see the filter")
	}
	if !filter.IsVisibleTo(stranger, []string{"ops", "maintenance"}) {
		t.Errorf("group member cannot see the filter")
	}
	if filter.IsVisibleTo(stranger, []string{"ops"}) {
		t.Errorf("unrelated user can see the filter")
	}
}

func TestWithSharingKeepsCreator(t *testing.T) {
	creator := uuid.New()
	other := uuid.New()

	filter := NewStoredFilter("Mine", "equipment", "token", creator).
		WithSharing([]uuid.UUID{other}, nil)

	if !filter.IsVisibleTo(creator, nil) {
		t.Errorf("sharing update dropped the creator")
	}
	if !filter.IsVisibleTo(other, nil) {
		t.Errorf("sharing update did not add the new user")
	}
}

func TestStoredFilterCopiesAreIndependent(t *testing.T) {
	creator := uuid.New()
	original := NewStoredFilter("Original", "equipment", "token", creator)

	updated := original.WithTitle("Renamed")
	if original.Title != "Original" {
		t.Errorf("WithTitle mutated the receiver")
	}
	if updated.Title != "Renamed" {
		t.Errorf("WithTitle did not apply: %q", updated.Title)
	}

	updated.Users[0] = uuid.New()
	if original.Users[0] != creator {
		t.Errorf("copies share the users slice")
	}
}

func TestEntitySchemaFieldLookup(t *testing.T) {
	schema := NewEntitySchema("equipment", "Plant equipment", []FieldDefinition{
		{Name: "name", Type: FieldTypeString, Required: true},
		{Name: "installed_at", Type: FieldTypeTimestamp},
	})

	field, ok := schema.Field("installed_at")
	if !ok || field.Type != FieldTypeTimestamp {
		t.Fatalf("expected timestamp field, got %#v (%v)", field, ok)
	}
	if _, ok := schema.Field("ghost"); ok {
		t.Errorf("unexpected lookup hit for unknown field")
	}
}

func TestEntityNestedPropertyLookup(t *testing.T) {
	entity := NewEntity("equipment", map[string]any{
		"name": "Pump 7",
		"location": map[string]any{
			"site": "north",
		},
	})

	value, ok := entity.Property("location", "site")
	if !ok || value != "north" {
		t.Fatalf("expected nested lookup to find site, got %v (%v)", value, ok)
	}
	if _, ok := entity.Property("location", "missing"); ok {
		t.Errorf("unexpected hit for missing nested key")
	}
	if _, ok := entity.Property("name", "deeper"); ok {
		t.Errorf("unexpected hit when descending into a scalar")
	}
}
