package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skadler/advfilters/internal/domain"
)

// ErrExportJobStatusConflict indicates that a job cannot transition to the requested state.
var ErrExportJobStatusConflict = errors.New("export job status conflict")

// exportJobRepository implements ExportJobRepository interface
type exportJobRepository struct {
	pool *pgxpool.Pool
}

// NewExportJobRepository wires a repository for managing export jobs.
func NewExportJobRepository(pool *pgxpool.Pool) ExportJobRepository {
	return &exportJobRepository{pool: pool}
}

const exportJobColumns = `id, entity_type, filter_id, format, requested_by,
	rows_requested, rows_exported, bytes_written,
	file_path, file_mime_type, file_byte_size,
	status, error_message, enqueued_at, started_at, completed_at, updated_at`

func (r *exportJobRepository) Create(ctx context.Context, job domain.ExportJob) (domain.ExportJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	rowsRequested := job.RowsRequested
	if rowsRequested < 0 {
		rowsRequested = 0
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO export_jobs (id, entity_type, filter_id, format, requested_by, rows_requested, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
		RETURNING `+exportJobColumns,
		job.ID, job.EntityType, job.FilterID, string(job.Format), job.RequestedBy, rowsRequested,
	)

	created, err := scanExportJob(row)
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("insert export job: %w", err)
	}
	return created, nil
}

func (r *exportJobRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+exportJobColumns+`
		FROM export_jobs
		WHERE id = $1`,
		id,
	)

	job, err := scanExportJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExportJob{}, fmt.Errorf("export job %s: %w", id, ErrNotFound)
		}
		return domain.ExportJob{}, fmt.Errorf("get export job: %w", err)
	}
	return job, nil
}

func (r *exportJobRepository) List(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error) {
	if len(statuses) == 0 {
		return []domain.ExportJob{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	statusValues := make([]string, len(statuses))
	for i, status := range statuses {
		statusValues[i] = string(status)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+exportJobColumns+`
		FROM export_jobs
		WHERE status = ANY($1)
		ORDER BY enqueued_at DESC
		LIMIT $2 OFFSET $3`,
		statusValues, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.ExportJob, 0, limit)
	for rows.Next() {
		job, scanErr := scanExportJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan export job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning claims a pending job. A job that is no longer pending reports
// ErrExportJobStatusConflict so a second worker backs off.
func (r *exportJobRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'RUNNING', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark export job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStatusConflict
	}
	return nil
}

func (r *exportJobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, rowsExported int, bytesWritten int64, rowsRequested *int) error {
	if rowsExported < 0 {
		rowsExported = 0
	}
	if bytesWritten < 0 {
		bytesWritten = 0
	}

	var err error
	if rowsRequested != nil {
		requested := *rowsRequested
		if requested < rowsExported {
			requested = rowsExported
		}
		_, err = r.pool.Exec(ctx, `
			UPDATE export_jobs
			SET rows_exported = $1, bytes_written = $2, rows_requested = $3, updated_at = NOW()
			WHERE id = $4`,
			rowsExported, bytesWritten, requested, id,
		)
	} else {
		_, err = r.pool.Exec(ctx, `
			UPDATE export_jobs
			SET rows_exported = $1, bytes_written = $2, updated_at = NOW()
			WHERE id = $3`,
			rowsExported, bytesWritten, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update export progress: %w", err)
	}
	return nil
}

func (r *exportJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, result ExportResult) error {
	rowsExported := result.RowsExported
	if rowsExported < 0 {
		rowsExported = 0
	}
	bytesWritten := result.BytesWritten
	if bytesWritten < 0 {
		bytesWritten = 0
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'COMPLETED', rows_exported = $1, bytes_written = $2,
		    file_path = $3, file_mime_type = $4, file_byte_size = $5,
		    completed_at = NOW(), updated_at = NOW()
		WHERE id = $6`,
		rowsExported, bytesWritten, result.FilePath, result.FileMimeType, result.FileByteSize, id,
	)
	if err != nil {
		return fmt.Errorf("mark export job completed: %w", err)
	}
	return nil
}

func (r *exportJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	var message *string
	if errorMessage != "" {
		message = &errorMessage
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'FAILED', error_message = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2`,
		message, id,
	)
	if err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}

// MarkCancelled stops a job that has not finished. Terminal jobs report
// ErrExportJobStatusConflict instead of being overwritten.
func (r *exportJobRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error {
	var message *string
	if reason != "" {
		message = &reason
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = 'CANCELLED', error_message = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN ('PENDING', 'RUNNING')`,
		message, id,
	)
	if err != nil {
		return fmt.Errorf("mark export job cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExportJobStatusConflict
	}
	return nil
}

func scanExportJob(row pgx.Row) (domain.ExportJob, error) {
	var (
		job    domain.ExportJob
		format string
		status string
	)
	err := row.Scan(
		&job.ID, &job.EntityType, &job.FilterID, &format, &job.RequestedBy,
		&job.RowsRequested, &job.RowsExported, &job.BytesWritten,
		&job.FilePath, &job.FileMimeType, &job.FileByteSize,
		&status, &job.ErrorMessage, &job.EnqueuedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt,
	)
	if err != nil {
		return domain.ExportJob{}, err
	}
	job.Format = domain.ExportFormat(format)
	job.Status = domain.ExportJobStatus(status)
	return job, nil
}
