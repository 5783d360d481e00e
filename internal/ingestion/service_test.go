package ingestion

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/skadler/advfilters/internal/catalog"
	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/repository"
)

func TestServiceIngestCreatesSchemaAndEntities(t *testing.T) {
	schemaRepo := newStubSchemaRepo()
	entityRepo := &stubEntityRepo{}
	logRepo := &stubLogRepo{}

	service := NewService(schemaRepo, entityRepo, logRepo, nil)

	data := `name,age,active
Alice,30,true
Bob,25,false
`
	req := Request{
		SchemaName: "Person",
		FileName:   "people.csv",
		Data:       strings.NewReader(data),
	}

	summary, err := service.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if !summary.SchemaCreated {
		t.Fatalf("expected schema to be created")
	}
	if summary.TotalRows != 2 || summary.ValidRows != 2 || summary.InvalidRows != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	schema := schemaRepo.schemas["Person"]
	if len(schema.Fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(schema.Fields))
	}

	fieldTypes := map[string]domain.FieldType{}
	for _, field := range schema.Fields {
		fieldTypes[field.Name] = field.Type
	}
	if fieldTypes["name"] != domain.FieldTypeString {
		t.Fatalf("expected name field type string, got %s", fieldTypes["name"])
	}
	if fieldTypes["age"] != domain.FieldTypeInteger {
		t.Fatalf("expected age field type integer, got %s", fieldTypes["age"])
	}
	if fieldTypes["active"] != domain.FieldTypeBoolean {
		t.Fatalf("expected active field type boolean, got %s", fieldTypes["active"])
	}

	if len(entityRepo.created) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entityRepo.created))
	}
	if entityRepo.created[0].EntityType != "Person" {
		t.Fatalf("expected entity type Person, got %s", entityRepo.created[0].EntityType)
	}
}

func TestServiceIngestDetectsDateColumns(t *testing.T) {
	schemaRepo := newStubSchemaRepo()
	entityRepo := &stubEntityRepo{}

	service := NewService(schemaRepo, entityRepo, &stubLogRepo{}, nil)

	data := `name,joined
Alice,2023-01-15
Bob,2023-02-01
`
	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Member",
		FileName:   "members.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.ValidRows != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	joined, ok := schemaRepo.schemas["Member"].Field("joined")
	if !ok || joined.Type != domain.FieldTypeDate {
		t.Fatalf("expected joined to be typed as date, got %+v", joined)
	}
	if got, _ := entityRepo.created[0].Property("joined"); got != "2023-01-15" {
		t.Fatalf("expected canonical date value, got %v", got)
	}
}

func TestServiceIngestReadsXLSX(t *testing.T) {
	schemaRepo := newStubSchemaRepo()
	entityRepo := &stubEntityRepo{}

	service := NewService(schemaRepo, entityRepo, &stubLogRepo{}, nil)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{"name", "rating"}); err != nil {
		t.Fatalf("set header row: %v", err)
	}
	if err := f.SetSheetRow(sheet, "A2", &[]any{"Alpha", 4.5}); err != nil {
		t.Fatalf("set data row: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Review",
		FileName:   "reviews.xlsx",
		Data:       bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.ValidRows != 1 || summary.InvalidRows != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	rating, ok := schemaRepo.schemas["Review"].Field("rating")
	if !ok || rating.Type != domain.FieldTypeFloat {
		t.Fatalf("expected rating to be typed as float, got %+v", rating)
	}
}

func TestServiceIngestRejectsUnsupportedFormat(t *testing.T) {
	service := NewService(newStubSchemaRepo(), &stubEntityRepo{}, &stubLogRepo{}, nil)

	_, err := service.Ingest(context.Background(), Request{
		SchemaName: "Person",
		FileName:   "people.parquet",
		Data:       strings.NewReader("irrelevant"),
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestServiceIngestAppendsFields(t *testing.T) {
	schemaRepo := newStubSchemaRepo(domain.NewEntitySchema("Metrics", "", []domain.FieldDefinition{
		{Name: "name", Type: domain.FieldTypeString, Required: true},
	}))
	entityRepo := &stubEntityRepo{}
	logRepo := &stubLogRepo{}

	service := NewService(schemaRepo, entityRepo, logRepo, nil)

	data := `name,score
Alpha,42
Beta,100
`
	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Metrics",
		FileName:   "metrics.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if summary.SchemaCreated {
		t.Fatalf("did not expect schema to be created")
	}
	if len(summary.NewFieldsDetected) != 1 || summary.NewFieldsDetected[0] != "score" {
		t.Fatalf("expected score to be detected as new field, summary: %+v", summary)
	}
	if schemaRepo.updates != 1 {
		t.Fatalf("expected one schema update, got %d", schemaRepo.updates)
	}
	if _, ok := schemaRepo.schemas["Metrics"].Field("score"); !ok {
		t.Fatalf("expected score to be persisted on the schema")
	}
	if summary.ValidRows != 2 || summary.InvalidRows != 0 {
		t.Fatalf("unexpected summary counts: %+v", summary)
	}
	if len(entityRepo.created) != 2 {
		t.Fatalf("expected 2 entities inserted, got %d", len(entityRepo.created))
	}
	if len(logRepo.entries) != 0 {
		t.Fatalf("did not expect ingestion errors, found %d", len(logRepo.entries))
	}
}

func TestServiceIngestInvalidatesCatalog(t *testing.T) {
	schemaRepo := newStubSchemaRepo(domain.NewEntitySchema("Metrics", "", []domain.FieldDefinition{
		{Name: "name", Type: domain.FieldTypeString, Required: true},
	}))
	cat := catalog.New(schemaRepo, nil, time.Hour)

	service := NewService(schemaRepo, &stubEntityRepo{}, &stubLogRepo{}, cat)

	view, err := cat.View(context.Background(), "Metrics")
	if err != nil {
		t.Fatalf("view returned error: %v", err)
	}
	if _, ok := view.Resolve("score"); ok {
		t.Fatalf("did not expect score before ingestion")
	}

	data := `name,score
Alpha,42
`
	if _, err := service.Ingest(context.Background(), Request{
		SchemaName: "Metrics",
		FileName:   "metrics.csv",
		Data:       strings.NewReader(data),
	}); err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	view, err = cat.View(context.Background(), "Metrics")
	if err != nil {
		t.Fatalf("view returned error: %v", err)
	}
	if _, ok := view.Resolve("score"); !ok {
		t.Fatalf("expected the cached view to pick up the new field")
	}
}

func TestServiceIngestDetectsTypeConflicts(t *testing.T) {
	schemaRepo := newStubSchemaRepo(domain.NewEntitySchema("Counters", "", []domain.FieldDefinition{
		{Name: "count", Type: domain.FieldTypeInteger, Required: true},
	}))
	entityRepo := &stubEntityRepo{}
	logRepo := &stubLogRepo{}

	service := NewService(schemaRepo, entityRepo, logRepo, nil)

	data := `count
3.5
`
	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Counters",
		FileName:   "counters.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}

	if summary.ValidRows != 0 || summary.InvalidRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.SchemaChanges) == 0 {
		t.Fatalf("expected schema change due to type conflict")
	}
	if len(logRepo.entries) == 0 {
		t.Fatalf("expected conflict to be logged")
	}
	if len(entityRepo.created) != 0 {
		t.Fatalf("expected no entities inserted, got %d", len(entityRepo.created))
	}
}

func TestServiceIngestRecordsRowNumbers(t *testing.T) {
	schemaRepo := newStubSchemaRepo(domain.NewEntitySchema("Person", "", []domain.FieldDefinition{
		{Name: "name", Type: domain.FieldTypeString, Required: true},
		{Name: "age", Type: domain.FieldTypeInteger},
	}))
	logRepo := &stubLogRepo{}

	service := NewService(schemaRepo, &stubEntityRepo{}, logRepo, nil)

	data := `name,age
Alice,30
Bob,notanumber
`
	summary, err := service.Ingest(context.Background(), Request{
		SchemaName: "Person",
		FileName:   "people.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if summary.ValidRows != 1 || summary.InvalidRows != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(logRepo.entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logRepo.entries))
	}
	entry := logRepo.entries[0]
	if entry.SchemaName != "Person" || entry.FileName != "people.csv" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.RowNumber == nil || *entry.RowNumber != 3 {
		t.Fatalf("expected the failing file row to be recorded, got %+v", entry.RowNumber)
	}
}

func TestServicePreviewReportsProblemsWithoutPersisting(t *testing.T) {
	schemaRepo := newStubSchemaRepo(domain.NewEntitySchema("Person", "", []domain.FieldDefinition{
		{Name: "name", Type: domain.FieldTypeString, Required: true},
		{Name: "age", Type: domain.FieldTypeInteger},
	}))
	entityRepo := &stubEntityRepo{}
	logRepo := &stubLogRepo{}

	service := NewService(schemaRepo, entityRepo, logRepo, nil)

	data := `name,age
Alice,30
Bob,notanumber
`
	result, err := service.Preview(context.Background(), PreviewRequest{
		SchemaName: "Person",
		FileName:   "people.csv",
		Data:       strings.NewReader(data),
	})
	if err != nil {
		t.Fatalf("preview returned error: %v", err)
	}

	if result.TotalRows != 2 || result.InvalidRows != 1 {
		t.Fatalf("unexpected preview counts: %+v", result)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 preview rows, got %d", len(result.Rows))
	}
	if len(result.Rows[1].Errors) == 0 {
		t.Fatalf("expected the bad row to carry errors")
	}
	if len(result.HeaderCandidates) == 0 {
		t.Fatalf("expected header candidates")
	}
	if len(entityRepo.created) != 0 {
		t.Fatalf("preview must not persist entities")
	}
	if len(logRepo.entries) != 0 {
		t.Fatalf("preview must not write ingestion logs")
	}
	if schemaRepo.updates != 0 {
		t.Fatalf("preview must not update schemas")
	}
}

type stubSchemaRepo struct {
	schemas map[string]domain.EntitySchema
	updates int
}

func newStubSchemaRepo(schemas ...domain.EntitySchema) *stubSchemaRepo {
	repo := &stubSchemaRepo{schemas: make(map[string]domain.EntitySchema)}
	for _, schema := range schemas {
		repo.schemas[schema.Name] = schema
	}
	return repo
}

func (s *stubSchemaRepo) Create(ctx context.Context, schema domain.EntitySchema) (domain.EntitySchema, error) {
	s.schemas[schema.Name] = schema
	return schema, nil
}

func (s *stubSchemaRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.EntitySchema, error) {
	for _, schema := range s.schemas {
		if schema.ID == id {
			return schema, nil
		}
	}
	return domain.EntitySchema{}, repository.ErrNotFound
}

func (s *stubSchemaRepo) GetByName(ctx context.Context, name string) (domain.EntitySchema, error) {
	schema, ok := s.schemas[name]
	if !ok {
		return domain.EntitySchema{}, repository.ErrNotFound
	}
	return schema, nil
}

func (s *stubSchemaRepo) List(ctx context.Context) ([]domain.EntitySchema, error) {
	out := make([]domain.EntitySchema, 0, len(s.schemas))
	for _, schema := range s.schemas {
		out = append(out, schema)
	}
	return out, nil
}

func (s *stubSchemaRepo) Update(ctx context.Context, schema domain.EntitySchema) (domain.EntitySchema, error) {
	if _, ok := s.schemas[schema.Name]; !ok {
		return domain.EntitySchema{}, repository.ErrNotFound
	}
	s.updates++
	s.schemas[schema.Name] = schema
	return schema, nil
}

func (s *stubSchemaRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for name, schema := range s.schemas {
		if schema.ID == id {
			delete(s.schemas, name)
			return nil
		}
	}
	return repository.ErrNotFound
}

type stubEntityRepo struct {
	created []domain.Entity
}

func (s *stubEntityRepo) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	s.created = append(s.created, entity)
	return entity, nil
}

func (s *stubEntityRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	return domain.Entity{}, errors.New("not implemented")
}

func (s *stubEntityRepo) List(ctx context.Context, query repository.EntityQuery) ([]domain.Entity, int, error) {
	return nil, 0, errors.New("not implemented")
}

func (s *stubEntityRepo) ListAll(ctx context.Context, query repository.EntityQuery, fn func(domain.Entity) error) error {
	return errors.New("not implemented")
}

func (s *stubEntityRepo) Count(ctx context.Context, entityType string) (int64, error) {
	return int64(len(s.created)), nil
}

func (s *stubEntityRepo) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	return domain.Entity{}, errors.New("not implemented")
}

func (s *stubEntityRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return errors.New("not implemented")
}

type stubLogRepo struct {
	entries []domain.IngestionLogEntry
}

func (s *stubLogRepo) Record(ctx context.Context, entry domain.IngestionLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubLogRepo) List(ctx context.Context, schemaName, fileName string, limit, offset int) ([]domain.IngestionLogEntry, error) {
	out := make([]domain.IngestionLogEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.SchemaName != schemaName {
			continue
		}
		if fileName != "" && entry.FileName != fileName {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

var _ repository.EntitySchemaRepository = (*stubSchemaRepo)(nil)
var _ repository.EntityRepository = (*stubEntityRepo)(nil)
var _ repository.IngestionLogRepository = (*stubLogRepo)(nil)
var _ catalog.SchemaSource = (*stubSchemaRepo)(nil)
