package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/pkg/qfilter"
)

// ErrNotFound marks lookups whose target row does not exist. Repositories
// wrap it so callers can map it without knowing the driver.
var ErrNotFound = errors.New("not found")

// FilterRepository defines the interface for stored filter operations
type FilterRepository interface {
	Create(ctx context.Context, filter domain.StoredFilter) (domain.StoredFilter, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.StoredFilter, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.StoredFilter, error)
	ListVisible(ctx context.Context, userID uuid.UUID, groups []string) ([]domain.StoredFilter, error)
	// ListByEntityType narrows ListVisible to filters targeting one entity
	// type, for editor sidebars.
	ListByEntityType(ctx context.Context, entityType string, userID uuid.UUID, groups []string) ([]domain.StoredFilter, error)
	Update(ctx context.Context, filter domain.StoredFilter) (domain.StoredFilter, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EntitySchemaRepository defines the interface for entity schema operations
type EntitySchemaRepository interface {
	Create(ctx context.Context, schema domain.EntitySchema) (domain.EntitySchema, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.EntitySchema, error)
	GetByName(ctx context.Context, name string) (domain.EntitySchema, error)
	List(ctx context.Context) ([]domain.EntitySchema, error)
	Update(ctx context.Context, schema domain.EntitySchema) (domain.EntitySchema, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EntityQuery bundles the parameters of a filtered entity listing.
type EntityQuery struct {
	EntityType string
	// Predicate restricts the listing; nil or the identity tree lists the
	// whole type.
	Predicate qfilter.Node
	// Fields types the predicate's field paths so comparisons can cast out
	// of JSONB text. May be nil.
	Fields qfilter.FieldCatalog
	Sort   *domain.EntitySort
	Limit  int
	Offset int
}

// EntityRepository defines the interface for entity operations
type EntityRepository interface {
	Create(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error)
	List(ctx context.Context, query EntityQuery) ([]domain.Entity, int, error)
	// ListAll streams every match of the query in stable order, ignoring
	// Limit and Offset. Used by exports.
	ListAll(ctx context.Context, query EntityQuery, fn func(domain.Entity) error) error
	Count(ctx context.Context, entityType string) (int64, error)
	Update(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// IngestionLogRepository records row level problems hit while loading
// tabular data into an entity type.
type IngestionLogRepository interface {
	Record(ctx context.Context, entry domain.IngestionLogEntry) error
	List(ctx context.Context, schemaName, fileName string, limit, offset int) ([]domain.IngestionLogEntry, error)
}

// ExportResult carries the terminal file metadata of a completed export.
type ExportResult struct {
	RowsExported int
	BytesWritten int64
	FilePath     *string
	FileMimeType *string
	FileByteSize *int64
}

// ExportJobRepository defines the interface for export job lifecycle state
type ExportJobRepository interface {
	Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error)
	List(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error
	MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error
}
