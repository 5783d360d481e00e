package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExportFormat enumerates the file formats an export can produce.
type ExportFormat string

const (
	ExportFormatCSV     ExportFormat = "CSV"
	ExportFormatCSVGzip ExportFormat = "CSV_GZIP"
	ExportFormatXLSX    ExportFormat = "XLSX"
)

// MimeType returns the content type served for files of this format.
func (f ExportFormat) MimeType() string {
	switch f {
	case ExportFormatCSVGzip:
		return "application/gzip"
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Extension returns the file name suffix for this format.
func (f ExportFormat) Extension() string {
	switch f {
	case ExportFormatCSVGzip:
		return ".csv.gz"
	case ExportFormatXLSX:
		return ".xlsx"
	default:
		return ".csv"
	}
}

// ExportJobStatus captures lifecycle state for an export job.
type ExportJobStatus string

const (
	ExportJobStatusPending   ExportJobStatus = "PENDING"
	ExportJobStatusRunning   ExportJobStatus = "RUNNING"
	ExportJobStatusCompleted ExportJobStatus = "COMPLETED"
	ExportJobStatusFailed    ExportJobStatus = "FAILED"
	ExportJobStatusCancelled ExportJobStatus = "CANCELLED"
)

// ExportJob mirrors persisted export job metadata for dashboards and workers.
// A job snapshots which listing it exports: an entity type, optionally
// narrowed by a stored filter whose token is resolved when the worker runs.
type ExportJob struct {
	ID            uuid.UUID       `json:"id"`
	EntityType    string          `json:"entity_type"`
	FilterID      *uuid.UUID      `json:"filter_id,omitempty"`
	Format        ExportFormat    `json:"format"`
	RequestedBy   uuid.UUID       `json:"requested_by"`
	RowsRequested int             `json:"rows_requested"`
	RowsExported  int             `json:"rows_exported"`
	BytesWritten  int64           `json:"bytes_written"`
	FilePath      *string         `json:"file_path,omitempty"`
	FileMimeType  *string         `json:"file_mime_type,omitempty"`
	FileByteSize  *int64          `json:"file_byte_size,omitempty"`
	Status        ExportJobStatus `json:"status"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
