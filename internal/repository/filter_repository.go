package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skadler/advfilters/internal/domain"
)

// filterRepository implements FilterRepository interface
type filterRepository struct {
	pool *pgxpool.Pool
}

// NewFilterRepository creates a new stored filter repository
func NewFilterRepository(pool *pgxpool.Pool) FilterRepository {
	return &filterRepository{pool: pool}
}

const filterColumns = "id, title, entity_type, encoded_query, created_by, users, groups, created_at, updated_at"

// Create persists a new stored filter
func (r *filterRepository) Create(ctx context.Context, filter domain.StoredFilter) (domain.StoredFilter, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO stored_filters (id, title, entity_type, encoded_query, created_by, users, groups, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+filterColumns,
		filter.ID, filter.Title, filter.EntityType, filter.EncodedQuery,
		filter.CreatedBy, filter.Users, filter.Groups, filter.CreatedAt, filter.UpdatedAt,
	)

	created, err := scanFilter(row)
	if err != nil {
		return domain.StoredFilter{}, fmt.Errorf("failed to create stored filter: %w", err)
	}
	return created, nil
}

// GetByID retrieves a stored filter by ID
func (r *filterRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.StoredFilter, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+filterColumns+`
		FROM stored_filters
		WHERE id = $1`,
		id,
	)

	filter, err := scanFilter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredFilter{}, fmt.Errorf("stored filter %s: %w", id, ErrNotFound)
		}
		return domain.StoredFilter{}, fmt.Errorf("failed to get stored filter: %w", err)
	}
	return filter, nil
}

// GetByIDs retrieves multiple stored filters by their IDs
func (r *filterRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.StoredFilter, error) {
	if len(ids) == 0 {
		return []domain.StoredFilter{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+filterColumns+`
		FROM stored_filters
		WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stored filters by IDs: %w", err)
	}
	defer rows.Close()

	return collectFilters(rows)
}

// ListVisible retrieves every filter the user can see: their own, those
// shared with them directly, and those shared with one of their groups.
func (r *filterRepository) ListVisible(ctx context.Context, userID uuid.UUID, groups []string) ([]domain.StoredFilter, error) {
	if groups == nil {
		groups = []string{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+filterColumns+`
		FROM stored_filters
		WHERE created_by = $1 OR $1 = ANY(users) OR groups && $2
		ORDER BY created_at DESC`,
		userID, groups,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible stored filters: %w", err)
	}
	defer rows.Close()

	return collectFilters(rows)
}

// ListByEntityType retrieves the visible filters that target one entity type.
func (r *filterRepository) ListByEntityType(ctx context.Context, entityType string, userID uuid.UUID, groups []string) ([]domain.StoredFilter, error) {
	if groups == nil {
		groups = []string{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+filterColumns+`
		FROM stored_filters
		WHERE entity_type = $1
		  AND (created_by = $2 OR $2 = ANY(users) OR groups && $3)
		ORDER BY created_at DESC`,
		entityType, userID, groups,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored filters for %s: %w", entityType, err)
	}
	defer rows.Close()

	return collectFilters(rows)
}

// Update updates a stored filter
func (r *filterRepository) Update(ctx context.Context, filter domain.StoredFilter) (domain.StoredFilter, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE stored_filters
		SET title = $2, entity_type = $3, encoded_query = $4, users = $5, groups = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+filterColumns,
		filter.ID, filter.Title, filter.EntityType, filter.EncodedQuery,
		filter.Users, filter.Groups, time.Now(),
	)

	updated, err := scanFilter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.StoredFilter{}, fmt.Errorf("stored filter %s: %w", filter.ID, ErrNotFound)
		}
		return domain.StoredFilter{}, fmt.Errorf("failed to update stored filter: %w", err)
	}
	return updated, nil
}

// Delete deletes a stored filter
func (r *filterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM stored_filters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stored filter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stored filter %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanFilter(row pgx.Row) (domain.StoredFilter, error) {
	var filter domain.StoredFilter
	err := row.Scan(
		&filter.ID, &filter.Title, &filter.EntityType, &filter.EncodedQuery,
		&filter.CreatedBy, &filter.Users, &filter.Groups, &filter.CreatedAt, &filter.UpdatedAt,
	)
	if err != nil {
		return domain.StoredFilter{}, err
	}
	return filter, nil
}

func collectFilters(rows pgx.Rows) ([]domain.StoredFilter, error) {
	filters := []domain.StoredFilter{}
	for rows.Next() {
		filter, err := scanFilter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stored filter: %w", err)
		}
		filters = append(filters, filter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stored filters: %w", err)
	}
	return filters, nil
}
