package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skadler/advfilters/internal/domain"
)

// entitySchemaRepository implements EntitySchemaRepository interface
type entitySchemaRepository struct {
	pool *pgxpool.Pool
}

// NewEntitySchemaRepository creates a new entity schema repository
func NewEntitySchemaRepository(pool *pgxpool.Pool) EntitySchemaRepository {
	return &entitySchemaRepository{pool: pool}
}

const schemaColumns = "id, name, description, fields, created_at, updated_at"

// Create persists a new entity schema
func (r *entitySchemaRepository) Create(ctx context.Context, schema domain.EntitySchema) (domain.EntitySchema, error) {
	fieldsJSON, err := schema.GetFieldsAsJSONB()
	if err != nil {
		return domain.EntitySchema{}, fmt.Errorf("failed to marshal schema fields: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO entity_schemas (id, name, description, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+schemaColumns,
		schema.ID, schema.Name, schema.Description, fieldsJSON, schema.CreatedAt, schema.UpdatedAt,
	)

	created, err := scanSchema(row)
	if err != nil {
		return domain.EntitySchema{}, fmt.Errorf("failed to create entity schema: %w", err)
	}
	return created, nil
}

// GetByID retrieves an entity schema by ID
func (r *entitySchemaRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.EntitySchema, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+schemaColumns+`
		FROM entity_schemas
		WHERE id = $1`,
		id,
	)

	schema, err := scanSchema(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntitySchema{}, fmt.Errorf("entity schema %s: %w", id, ErrNotFound)
		}
		return domain.EntitySchema{}, fmt.Errorf("failed to get entity schema: %w", err)
	}
	return schema, nil
}

// GetByName retrieves an entity schema by name
func (r *entitySchemaRepository) GetByName(ctx context.Context, name string) (domain.EntitySchema, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+schemaColumns+`
		FROM entity_schemas
		WHERE name = $1`,
		name,
	)

	schema, err := scanSchema(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntitySchema{}, fmt.Errorf("entity schema %q: %w", name, ErrNotFound)
		}
		return domain.EntitySchema{}, fmt.Errorf("failed to get entity schema by name: %w", err)
	}
	return schema, nil
}

// List retrieves all entity schemas
func (r *entitySchemaRepository) List(ctx context.Context) ([]domain.EntitySchema, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+schemaColumns+`
		FROM entity_schemas
		ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity schemas: %w", err)
	}
	defer rows.Close()

	schemas := []domain.EntitySchema{}
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity schema: %w", err)
		}
		schemas = append(schemas, schema)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entity schemas: %w", err)
	}
	return schemas, nil
}

// Update updates an entity schema
func (r *entitySchemaRepository) Update(ctx context.Context, schema domain.EntitySchema) (domain.EntitySchema, error) {
	fieldsJSON, err := schema.GetFieldsAsJSONB()
	if err != nil {
		return domain.EntitySchema{}, fmt.Errorf("failed to marshal schema fields: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE entity_schemas
		SET name = $2, description = $3, fields = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+schemaColumns,
		schema.ID, schema.Name, schema.Description, fieldsJSON, time.Now(),
	)

	updated, err := scanSchema(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EntitySchema{}, fmt.Errorf("entity schema %s: %w", schema.ID, ErrNotFound)
		}
		return domain.EntitySchema{}, fmt.Errorf("failed to update entity schema: %w", err)
	}
	return updated, nil
}

// Delete deletes an entity schema
func (r *entitySchemaRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM entity_schemas WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity schema: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity schema %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanSchema(row pgx.Row) (domain.EntitySchema, error) {
	var schema domain.EntitySchema
	var fieldsJSON json.RawMessage

	err := row.Scan(&schema.ID, &schema.Name, &schema.Description, &fieldsJSON, &schema.CreatedAt, &schema.UpdatedAt)
	if err != nil {
		return domain.EntitySchema{}, err
	}

	fields, err := domain.FromJSONBFields(fieldsJSON)
	if err != nil {
		return domain.EntitySchema{}, fmt.Errorf("failed to unmarshal schema fields: %w", err)
	}
	schema.Fields = fields
	return schema, nil
}
