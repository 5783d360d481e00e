package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/pkg/qfilter"
)

// entityRepository implements EntityRepository interface
type entityRepository struct {
	pool *pgxpool.Pool
}

// NewEntityRepository creates a new entity repository
func NewEntityRepository(pool *pgxpool.Pool) EntityRepository {
	return &entityRepository{pool: pool}
}

const entityColumns = "id, entity_type, properties, created_at, updated_at"

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// Create creates a new entity
func (r *entityRepository) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	propertiesJSON, err := entity.GetPropertiesAsJSONB()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to marshal properties: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO entities (id, entity_type, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+entityColumns,
		entity.ID, entity.EntityType, propertiesJSON, entity.CreatedAt, entity.UpdatedAt,
	)

	created, err := scanEntity(row)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to create entity: %w", err)
	}
	return created, nil
}

// GetByID retrieves an entity by ID
func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Entity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE id = $1`,
		id,
	)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
		}
		return domain.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// List retrieves entities of one type matching the query's predicate, with
// the total match count for pagination.
func (r *entityRepository) List(ctx context.Context, query EntityQuery) ([]domain.Entity, int, error) {
	where, args, err := buildPredicate(query, 1)
	if err != nil {
		return nil, 0, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}

	sql := fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total_count
		FROM entities
		%s
		ORDER BY %s
		LIMIT %d OFFSET %d`,
		entityColumns, where, sortClause(query.Sort), limit, offset,
	)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := []domain.Entity{}
	totalCount := 0
	for rows.Next() {
		var entity domain.Entity
		var propertiesJSON json.RawMessage
		if err := rows.Scan(&entity.ID, &entity.EntityType, &propertiesJSON, &entity.CreatedAt, &entity.UpdatedAt, &totalCount); err != nil {
			return nil, 0, fmt.Errorf("failed to scan entity: %w", err)
		}
		properties, err := domain.FromJSONBProperties(propertiesJSON)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal entity properties: %w", err)
		}
		entity.Properties = properties
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read entities: %w", err)
	}

	return entities, totalCount, nil
}

// ListAll streams every entity matching the query in stable order.
func (r *entityRepository) ListAll(ctx context.Context, query EntityQuery, fn func(domain.Entity) error) error {
	where, args, err := buildPredicate(query, 1)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`
		SELECT %s
		FROM entities
		%s
		ORDER BY %s`,
		entityColumns, where, sortClause(query.Sort),
	)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to stream entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return fmt.Errorf("failed to scan entity: %w", err)
		}
		if err := fn(entity); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read entities: %w", err)
	}
	return nil
}

// Count counts all entities of a type
func (r *entityRepository) Count(ctx context.Context, entityType string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities WHERE entity_type = $1`, entityType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return count, nil
}

// Update updates an entity
func (r *entityRepository) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	propertiesJSON, err := entity.GetPropertiesAsJSONB()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to marshal properties: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE entities
		SET entity_type = $2, properties = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+entityColumns,
		entity.ID, entity.EntityType, propertiesJSON,
	)

	updated, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Entity{}, fmt.Errorf("entity %s: %w", entity.ID, ErrNotFound)
		}
		return domain.Entity{}, fmt.Errorf("failed to update entity: %w", err)
	}
	return updated, nil
}

// Delete deletes an entity
func (r *entityRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return nil
}

// buildPredicate renders the WHERE clause of an entity query: the type match
// plus the lowered predicate tree, with placeholders starting after offset.
func buildPredicate(query EntityQuery, offset int) (string, []any, error) {
	if query.EntityType == "" {
		return "", nil, fmt.Errorf("entity type is required")
	}

	args := []any{query.EntityType}
	where := fmt.Sprintf("WHERE entity_type = $%d", offset)

	if query.Predicate != nil && !qfilter.IsMatchAll(query.Predicate) {
		encoder := qfilter.NewSQLEncoder(&qfilter.SQLEncoderOptions{
			Catalog:   query.Fields,
			ArgOffset: offset,
		})
		fragment, fragArgs, err := encoder.Encode(query.Predicate)
		if err != nil {
			return "", nil, fmt.Errorf("failed to lower filter predicate: %w", err)
		}
		if fragment != "" {
			where += " AND (" + fragment + ")"
			args = append(args, fragArgs...)
		}
	}

	return where, args, nil
}

// sortClause renders a safe ORDER BY expression for the listing queries.
func sortClause(sort *domain.EntitySort) string {
	if sort == nil {
		return "created_at DESC"
	}

	direction := "ASC"
	if sort.Direction == domain.SortDirectionDesc {
		direction = "DESC"
	}

	switch sort.Field {
	case domain.EntitySortFieldCreatedAt:
		return "created_at " + direction
	case domain.EntitySortFieldUpdatedAt:
		return "updated_at " + direction
	case domain.EntitySortFieldEntityType:
		return "entity_type " + direction
	case domain.EntitySortFieldProperty:
		if sort.PropertyKey == "" {
			return "created_at DESC"
		}
		return fmt.Sprintf("properties->>%s %s", quoteLiteral(sort.PropertyKey), direction)
	default:
		return "created_at DESC"
	}
}

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var entity domain.Entity
	var propertiesJSON json.RawMessage

	err := row.Scan(&entity.ID, &entity.EntityType, &propertiesJSON, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return domain.Entity{}, err
	}

	properties, err := domain.FromJSONBProperties(propertiesJSON)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to unmarshal entity properties: %w", err)
	}
	entity.Properties = properties
	return entity, nil
}
